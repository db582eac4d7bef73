package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Video operation states reported by the status endpoint.
const (
	VideoStatePending    = "MEDIA_GENERATION_STATUS_PENDING"
	VideoStateActive     = "MEDIA_GENERATION_STATUS_ACTIVE"
	VideoStateSuccessful = "MEDIA_GENERATION_STATUS_SUCCESSFUL"
	VideoStateFailed     = "MEDIA_GENERATION_STATUS_FAILED"
)

// VideoRequest describes one text-to-video (or image-to-video) generation.
type VideoRequest struct {
	Prompt       string
	AspectRatio  string
	Model        string
	Seed         int64
	SceneID      string
	StartMediaID string
}

// VideoOperation identifies a started generation.
type VideoOperation struct {
	OperationName string
	SceneID       string
	State         string
}

// VideoStatus is the polled state of an operation.
type VideoStatus struct {
	State    string
	VideoURL string
	Err      *Error
}

// Done reports whether the operation reached a terminal state.
func (s VideoStatus) Done() bool {
	return s.State == VideoStateSuccessful || s.State == VideoStateFailed
}

// VideoClient drives the asynchronous video generation API.
type VideoClient struct {
	client    *Client
	projectID string
	model     string
}

func NewVideoClient(client *Client, projectID, model string) *VideoClient {
	if model == "" {
		model = "veo_3_0_t2v_fast"
	}
	return &VideoClient{client: client, projectID: projectID, model: model}
}

func aspectRatioKey(ratio string) string {
	switch strings.ToLower(strings.TrimSpace(ratio)) {
	case "9:16", "portrait":
		return "VIDEO_ASPECT_RATIO_PORTRAIT"
	case "1:1", "square":
		return "VIDEO_ASPECT_RATIO_SQUARE"
	}
	return "VIDEO_ASPECT_RATIO_LANDSCAPE"
}

// Start submits the generation and returns the operation handle.
func (v *VideoClient) Start(ctx context.Context, credential string, req VideoRequest) (*VideoOperation, error) {
	model := req.Model
	if model == "" {
		model = v.model
	}
	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"clientContext.projectId", v.projectID},
		{"clientContext.tool", "PINHOLE"},
		{"requests.0.aspectRatio", aspectRatioKey(req.AspectRatio)},
		{"requests.0.seed", req.Seed},
		{"requests.0.textInput.prompt", req.Prompt},
		{"requests.0.videoModelKey", model},
		{"requests.0.metadata.sceneId", req.SceneID},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, &Error{Category: CategoryGeneric, Err: err}
		}
	}
	path := "/video:batchAsyncGenerateVideoText"
	if req.StartMediaID != "" {
		if body, err = sjson.SetBytes(body, "requests.0.startImage.mediaId", req.StartMediaID); err != nil {
			return nil, &Error{Category: CategoryGeneric, Err: err}
		}
		path = "/video:batchAsyncGenerateVideoStartImage"
	}

	resp, err := v.client.Post(ctx, "video.start", path, credential, "", body)
	if err != nil {
		return nil, err
	}
	op := gjson.GetBytes(resp, "operations.0")
	name := op.Get("operation.name").String()
	if name == "" {
		return nil, Classify(200, resp, nil)
	}
	sceneID := op.Get("sceneId").String()
	if sceneID == "" {
		sceneID = req.SceneID
	}
	return &VideoOperation{OperationName: name, SceneID: sceneID, State: op.Get("status").String()}, nil
}

// Status polls one operation.
func (v *VideoClient) Status(ctx context.Context, credential, operationName, sceneID string) (*VideoStatus, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "operations.0.operation.name", operationName)
	if err == nil {
		body, err = sjson.SetBytes(body, "operations.0.sceneId", sceneID)
	}
	if err == nil {
		body, err = sjson.SetBytes(body, "operations.0.status", VideoStatePending)
	}
	if err != nil {
		return nil, &Error{Category: CategoryGeneric, Err: err}
	}

	resp, err := v.client.Post(ctx, "video.status", "/video:batchCheckAsyncVideoGenerationStatus", credential, "", body)
	if err != nil {
		return nil, err
	}
	op := gjson.GetBytes(resp, "operations.0")
	if !op.Exists() {
		return nil, &Error{Category: CategoryGeneric, Message: "status response has no operations"}
	}
	status := &VideoStatus{State: op.Get("status").String()}
	switch status.State {
	case VideoStateSuccessful:
		status.VideoURL = op.Get("operation.metadata.video.fifeUrl").String()
		if status.VideoURL == "" {
			status.State = VideoStateFailed
			status.Err = NewError(CategoryGeneric, "completed without a video url")
		}
	case VideoStateFailed:
		raw := []byte(op.Get("operation").Raw)
		status.Err = Classify(400, raw, nil)
		if status.Err.Message == "" {
			status.Err.Message = fmt.Sprintf("operation %s failed", operationName)
		}
	}
	return status, nil
}
