package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const maxResponseBytes = 2 << 20

// Cloudinary uploads images through the signed upload API.
type Cloudinary struct {
	apiKey     string
	apiSecret  string
	folder     string
	uploadURL  string
	httpClient *http.Client
	now        func() time.Time
}

type cloudinaryUploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(rawURL, folder string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, errors.New("cloudinary url must use the cloudinary:// scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, errors.New("cloudinary url is missing the api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, errors.New("cloudinary url needs api key, secret and cloud name")
	}

	return &Cloudinary{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		folder:    strings.Trim(strings.TrimSpace(folder), "/"),
		uploadURL: fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", cloudName),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}, nil
}

// UploadImage sends a data URI or remote URL to Cloudinary and returns the
// secure delivery URL of the stored asset.
func (c *Cloudinary) UploadImage(ctx context.Context, imageSource string) (string, error) {
	imageSource = strings.TrimSpace(imageSource)
	if imageSource == "" {
		return "", errors.New("empty image source")
	}

	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	if c.folder != "" {
		params.Set("folder", c.folder)
	}

	body, contentType, err := c.uploadForm(imageSource, params)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	return decodeUploadResponse(resp)
}

func (c *Cloudinary) uploadForm(file string, params url.Values) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"file", file},
		{"api_key", c.apiKey},
		{"signature", c.sign(params)},
	}
	for key := range params {
		fields = append(fields, [2]string{key, params.Get(key)})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close upload form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func decodeUploadResponse(resp *http.Response) (string, error) {
	var parsed cloudinaryUploadResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode upload response: %w", decodeErr)
	}
	if parsed.SecureURL == "" {
		return "", errors.New("upload response missing secure_url")
	}
	return parsed.SecureURL, nil
}

// sign implements the Cloudinary signature: parameters sorted by name, joined
// as key=value pairs with '&', followed by the API secret, hashed with SHA-1.
func (c *Cloudinary) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params.Get(key))
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.apiSecret)) // #nosec G401: required by the Cloudinary API.
	return hex.EncodeToString(sum[:])
}
