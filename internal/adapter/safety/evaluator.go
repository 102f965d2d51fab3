// Package safety calls an external content moderation service to score
// listing content before publication.
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Compile-time check: Evaluator implements domain.ContentEvaluator.
var _ domain.ContentEvaluator = (*Evaluator)(nil)

const defaultTimeout = 10 * time.Second

// Evaluator scores a listing's description sentiment and scans its images
// for moderation labels. A listing passes only with POSITIVE sentiment and
// zero moderation labels on every image. Transport and non-2xx failures are
// returned as errors so the caller can retry.
type Evaluator struct {
	baseURL string
	client  *http.Client
}

// New creates an evaluator against the moderation service at baseURL.
func New(baseURL string) *Evaluator {
	return &Evaluator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Sentiment string `json:"sentiment"`
}

type moderationRequest struct {
	Image string `json:"image"`
}

type moderationResponse struct {
	Labels []moderationLabel `json:"labels"`
}

type moderationLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Evaluate runs both checks. Image scanning stops at the first flagged
// image; the sentiment verdict is still reported so declines carry the full
// picture.
func (e *Evaluator) Evaluate(ctx context.Context, snapshot domain.ListingSnapshot) (domain.ContentVerdict, error) {
	var verdict domain.ContentVerdict

	var sentiment sentimentResponse
	if err := e.post(ctx, "/v1/sentiment", sentimentRequest{Text: snapshot.Description}, &sentiment); err != nil {
		return domain.ContentVerdict{}, fmt.Errorf("detecting sentiment: %w", err)
	}
	verdict.SentimentPassed = sentiment.Sentiment == "POSITIVE"

	verdict.ImagesPassed = true
	for _, image := range snapshot.Images {
		var moderation moderationResponse
		if err := e.post(ctx, "/v1/moderation", moderationRequest{Image: image}, &moderation); err != nil {
			return domain.ContentVerdict{}, fmt.Errorf("moderating image %q: %w", image, err)
		}
		if len(moderation.Labels) > 0 {
			slog.InfoContext(ctx, "image flagged by moderation",
				"property_id", snapshot.PropertyID,
				"image", image,
				"labels", len(moderation.Labels),
			)
			verdict.ImagesPassed = false
			break
		}
	}

	return verdict, nil
}

func (e *Evaluator) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling moderation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moderation service returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
