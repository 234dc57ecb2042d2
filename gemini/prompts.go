package gemini

import (
	"fmt"
	"strings"

	"StoryboardStudio-server/models"
)

func languageName(lang models.Language) string {
	if lang == models.LanguageChinese {
		return "Simplified Chinese"
	}
	return "English"
}

func conceptPrompt(in models.ConceptInputs, lang models.Language) string {
	return fmt.Sprintf(`You are a world-class screenwriter and narrative designer. Your goal is to refine raw story inputs into a professional cinematic premise.

GENRE: %s
PRIMARY CONFLICT: %s
PROTAGONIST: %s
INITIAL SEED: %s

OUTPUT LANGUAGE: %s

Please provide a catchy title and a high-stakes, 2-3 sentence premise that defines the inciting incident and the protagonist's goal.
Respond ONLY with a JSON object of the form {"title": string, "premise": string}.`,
		in.Genre, in.Conflict, in.Protagonist, in.Seed, languageName(lang))
}

func storyboardPrompt(req models.StoryboardRequest) string {
	languageInstruction := "Please output all text content in English."
	if req.Language == models.LanguageChinese {
		languageInstruction = "Please output all text content (title, theme, shotType, description, dialogue) in Simplified Chinese."
	}

	var bible string
	if len(req.Characters) > 0 {
		entries := make([]string, 0, len(req.Characters))
		for _, c := range req.Characters {
			entries = append(entries, fmt.Sprintf("[ID: %s] Name: %s, Bio: %s, Traits: %s",
				c.ID, c.Name, c.Summary, strings.Join(c.VisualTraits, ", ")))
		}
		bible = "THE CHARACTER BIBLE (STRICTLY ADHERE TO THESE BIOGRAPHIES): " + strings.Join(entries, "; ")
	}

	return fmt.Sprintf(`You are an expert film director and storyboard artist. Create a professional storyboard script.

CORE STORY IDEA: "%s"
MASTER VISUAL STYLE: %s
STYLE DEFINITION: %s

%s

TASK INSTRUCTIONS:
1. Generate a sequence of 6-8 shots that tell a coherent story.
2. %s
3. CRITICAL CONSISTENCY RULE: Every "visualPrompt" MUST be in English.
4. "visualPrompt" MUST act as a precise image generation prompt. It must explicitly include the style keyword "%s" and detailed descriptions.
5. CHARACTER PERSISTENCE: If a character from the "CHARACTER BIBLE" is in the shot, you MUST include their full physical traits in the "visualPrompt". Describe their features exactly as provided.
6. "characterInvolved" must contain the ID of the primary character featured in that shot.

Respond ONLY with a JSON object:
{"title": string, "theme": string, "visualStyle": string, "shots": [{"shotNumber": integer, "shotType": string, "description": string, "visualPrompt": string, "dialogue": string, "characterInvolved": string}]}`,
		req.Seed, req.Style.Name, req.Style.Description, bible, languageInstruction, req.Style.Name)
}

func characterSheetPrompt(c models.CharacterProfile, style models.VisualStyle) string {
	return fmt.Sprintf(`CHARACTER CONCEPT DESIGN SHEET:
Name: %s, Traits: %s.
Style: %s style. Front and side view, neutral background. Square 1:1 composition.`,
		c.Name, strings.Join(c.VisualTraits, ", "), style.Name)
}

func editPrompt(instruction string) string {
	return "Edit this image: " + instruction
}

const defaultMotionPrompt = "Cinematic movement"
