package upstream

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ImageRequest describes one synchronous image generation.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Model       string
	Seed        int64
	// ReferenceMediaID is an uploaded image the generation should follow.
	ReferenceMediaID string
}

// ImageResult holds the decoded image.
type ImageResult struct {
	Data        []byte
	ContentType string
	Seed        int64
}

// ImageClient calls the image generation API.
type ImageClient struct {
	client    *Client
	projectID string
	model     string
}

func NewImageClient(client *Client, projectID, model string) *ImageClient {
	if model == "" {
		model = "IMAGEN_3_5"
	}
	return &ImageClient{client: client, projectID: projectID, model: model}
}

func imageAspectKey(ratio string) string {
	switch strings.ToLower(strings.TrimSpace(ratio)) {
	case "9:16", "portrait":
		return "IMAGE_ASPECT_RATIO_PORTRAIT"
	case "1:1", "square":
		return "IMAGE_ASPECT_RATIO_SQUARE"
	}
	return "IMAGE_ASPECT_RATIO_LANDSCAPE"
}

// Generate returns the first generated image.
func (c *ImageClient) Generate(ctx context.Context, credential string, req ImageRequest) (*ImageResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"clientContext.workflowId", c.projectID},
		{"clientContext.tool", "BACKBONE"},
		{"imageModelSettings.imageModel", model},
		{"imageModelSettings.aspectRatio", imageAspectKey(req.AspectRatio)},
		{"seed", req.Seed},
		{"prompt", req.Prompt},
		{"mediaCategory", "MEDIA_CATEGORY_BOARD"},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, &Error{Category: CategoryGeneric, Err: err}
		}
	}

	if req.ReferenceMediaID != "" {
		body, err = sjson.SetBytes(body, "imageInputs.0.mediaGenerationId", req.ReferenceMediaID)
		if err == nil {
			body, err = sjson.SetBytes(body, "imageInputs.0.imageInputType", "IMAGE_INPUT_TYPE_REFERENCE")
		}
		if err != nil {
			return nil, &Error{Category: CategoryGeneric, Err: err}
		}
	}

	resp, err := c.client.Post(ctx, "image.generate", "/whisk:generateImage", credential, "", body)
	if err != nil {
		return nil, err
	}
	img := gjson.GetBytes(resp, "imagePanels.0.generatedImages.0")
	encoded := img.Get("encodedImage").String()
	if encoded == "" {
		return nil, Classify(200, resp, nil)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Category: CategoryGeneric, Message: "invalid image encoding", Err: err}
	}
	return &ImageResult{Data: data, ContentType: http.DetectContentType(data), Seed: img.Get("seed").Int()}, nil
}

// UploadImage stores a reference image upstream and returns its media id.
func (c *ImageClient) UploadImage(ctx context.Context, credential string, data []byte, contentType string) (string, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "imageInput.rawImageBytes", base64.StdEncoding.EncodeToString(data))
	if err == nil {
		body, err = sjson.SetBytes(body, "imageInput.mimeType", contentType)
	}
	if err == nil {
		body, err = sjson.SetBytes(body, "clientContext.tool", "ASSET_MANAGER")
	}
	if err != nil {
		return "", &Error{Category: CategoryGeneric, Err: err}
	}
	resp, err := c.client.Post(ctx, "image.upload", "/flow:uploadUserImage", credential, "", body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "mediaGenerationId.mediaGenerationId").String()
	if top := gjson.GetBytes(resp, "mediaGenerationId"); id == "" && top.Type == gjson.String {
		id = top.String()
	}
	if id == "" {
		return "", Classify(200, resp, nil)
	}
	return id, nil
}
