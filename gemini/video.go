package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"StoryboardStudio-server/models"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Animate 提交长任务，按固定间隔轮询，到达次数上限返回超时，完成后下载视频
func (c *Client) Animate(ctx context.Context, img models.Artifact, motionPrompt string, aspect models.AspectRatio) (models.Artifact, error) {
	ai, key, err := c.credentials()
	if err != nil {
		return models.Artifact{}, err
	}
	if motionPrompt == "" {
		motionPrompt = defaultMotionPrompt
	}
	mime := img.MimeType
	if mime == "" {
		mime = models.DefaultImageMimeType
	}

	op, err := ai.Models.GenerateVideos(ctx, c.opts.VideoModel, motionPrompt,
		&genai.Image{ImageBytes: img.Data, MIMEType: mime},
		&genai.GenerateVideosConfig{AspectRatio: string(aspect), Resolution: "720p", NumberOfVideos: 1})
	if err != nil {
		return models.Artifact{}, classify(err)
	}
	log := c.log.WithFields(logrus.Fields{"model": c.opts.VideoModel, "operation": op.Name})
	log.Info("视频任务已提交，开始轮询结果...")

	if !op.Done {
		if op, err = c.pollOperation(ctx, ai, op); err != nil {
			log.WithError(err).Warn("视频任务轮询失败")
			return models.Artifact{}, err
		}
	}
	if err := operationError(op); err != nil {
		return models.Artifact{}, err
	}
	video := generatedVideo(op)
	if video == nil {
		return models.Artifact{}, fmt.Errorf("%w: video operation returned no video", models.ErrGenerationFailure)
	}
	if len(video.VideoBytes) > 0 {
		return models.Artifact{MimeType: videoMime(video.MIMEType), Data: video.VideoBytes}, nil
	}
	if video.URI == "" {
		return models.Artifact{}, fmt.Errorf("%w: video operation returned no video", models.ErrGenerationFailure)
	}
	return c.download(ctx, video.URI, key)
}

func (c *Client) pollOperation(ctx context.Context, ai *genai.Client, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.opts.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: polling canceled: %v", models.ErrTimeoutExceeded, ctx.Err())
			}
			return nil, fmt.Errorf("%w: polling canceled: %v", models.ErrGenerationFailure, ctx.Err())
		case <-ticker.C:
		}

		next, err := ai.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			err = classify(err)
			if errors.Is(err, models.ErrAuthorizationMissing) {
				return nil, err
			}
			// 网络抖动不终止轮询
			c.log.WithError(err).WithField("attempt", attempt).Warn("轮询网络错误(重试中)")
			continue
		}
		if next.Done {
			return next, nil
		}
		op = next
	}
	return nil, fmt.Errorf("%w: video not ready after %d polls", models.ErrTimeoutExceeded, c.opts.PollMaxAttempts)
}

// operationError 长任务失败时 error 字段是 {code, message}
func operationError(op *genai.GenerateVideosOperation) error {
	if len(op.Error) == 0 {
		return nil
	}
	msg, _ := op.Error["message"].(string)
	code := 0
	if n, ok := op.Error["code"].(float64); ok {
		code = int(n)
	}
	return classifyStatus(code, msg, fmt.Errorf("video operation: %s", msg))
}

func generatedVideo(op *genai.GenerateVideosOperation) *genai.Video {
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0] == nil {
		return nil
	}
	return op.Response.GeneratedVideos[0].Video
}

func videoMime(mime string) string {
	if mime == "" || mime == "application/octet-stream" {
		return "video/mp4"
	}
	return mime
}

// download 视频地址需要附带 key 参数才能访问
func (c *Client) download(ctx context.Context, rawURI, key string) (models.Artifact, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: parse video uri: %v", models.ErrGenerationFailure, err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: create download request: %v", models.ErrGenerationFailure, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Artifact{}, classify(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: download video: %v", models.ErrGenerationFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		return models.Artifact{}, classifyStatus(resp.StatusCode, msg, fmt.Errorf("download status %d: %s", resp.StatusCode, msg))
	}
	return models.Artifact{MimeType: videoMime(resp.Header.Get("Content-Type")), Data: data}, nil
}
