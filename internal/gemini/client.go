package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crisisops/floodwatch/internal/httputil"
)

const (
	defaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	defaultGenerativeModel = "gemini-1.5-flash-latest"
	defaultEmbeddingModel  = "text-embedding-004"
)

// Classification labels returned by Classify.
const (
	LabelActionable = "Actionable"
	LabelNoise      = "Noise"
	LabelError      = "Error"
)

var (
	// ErrUnavailable marks transport-level failures (network, non-2xx).
	// Callers skip the item and retry it on the next run.
	ErrUnavailable = errors.New("gemini: unavailable")
	// ErrMalformed marks unparseable or incomplete model output. Callers
	// substitute sentinel values and advance the item — a systematically bad
	// input must not be reprocessed forever.
	ErrMalformed = errors.New("gemini: malformed response")
)

// Pacer gates outbound calls to respect the API rate limit. *rate.Limiter
// satisfies it; a nil Pacer disables pacing (tests).
type Pacer interface {
	Wait(ctx context.Context) error
}

// Config holds the language-model collaborator settings.
type Config struct {
	APIKey          string
	BaseURL         string
	GenerativeModel string
	EmbeddingModel  string
	Timeout         time.Duration
}

// Client calls the Generative Language REST API for classification,
// extraction, summarization and embeddings. One outbound call at a time,
// paced by the injected Pacer.
type Client struct {
	cfg   Config
	httpc *http.Client
	pacer Pacer
}

// NewClient applies defaults and builds the collaborator client.
func NewClient(cfg Config, pacer Pacer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GenerativeModel == "" {
		cfg.GenerativeModel = defaultGenerativeModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: httputil.NewClient(cfg.Timeout),
		pacer: pacer,
	}
}

// Extraction is the structured result of extracting one message.
type Extraction struct {
	Location string `json:"location"`
	Issue    string `json:"issue"`
	Time     string `json:"time"`
}

// Summary describes a merged event produced from a cluster of reports.
type Summary struct {
	Summary  string `json:"summary"`
	Location string `json:"location"`
}

// Classify labels free text as Actionable or Noise.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Your task is to classify the following text as either "Actionable" or "Noise".
Provide the output in JSON format with a single key "classification".

Actionable data describes a specific, ongoing event or need that requires an immediate response.
Noise data is a general statement, an opinion, a report of a past event, or a metaphorical use of a word.

--- EXAMPLES ---
Text: "There are people stranded on their rooftops in Sainathapuram. They need immediate air rescue." -> {"classification": "Actionable"}
Text: "A huge tree has fallen and blocked the main road in Viruthampet." -> {"classification": "Actionable"}
Text: "The new movie release is expected to see a flood of audience reviews this weekend." -> {"classification": "Noise"}
--- EXAMPLES END ---

Text: %q`, text)

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	var out struct {
		Classification string `json:"classification"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch out.Classification {
	case LabelActionable, LabelNoise:
		return out.Classification, nil
	}
	return "", fmt.Errorf("%w: unexpected label %q", ErrMalformed, out.Classification)
}

// Extract pulls {location, issue, time} out of one message. Missing keys come
// back as empty strings; the caller substitutes sentinels.
func (c *Client) Extract(ctx context.Context, text string) (Extraction, error) {
	prompt := fmt.Sprintf(`Analyze the following message about a potential disaster. Your task is to extract the specific location of the issue, a concise description of the issue, and the time of the issue.

Your response MUST be a valid JSON object with three keys: "location", "issue", and "time".
- "location": The specific place mentioned (e.g., "Katpadi Road", "Gandhi Nagar"). If no location is mentioned, return "Not specified".
- "issue": A brief description of the problem (e.g., "Severe waterlogging", "Power cut", "Bridge collapse").
- "time": The time reference from the message (e.g., "Overnight", "Last hour", "Now"). If not mentioned, return "Not specified".

Here is the message:
---
%s
---`, text)

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return Extraction{}, err
	}

	var out Extraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// Summarize merges the original texts of one cluster into a single summary
// and canonical location.
func (c *Client) Summarize(ctx context.Context, texts []string) (Summary, error) {
	prompt := fmt.Sprintf(`The following are multiple reports describing the same disaster event.
Analyze them and generate a single, clear, and concise summary and identify the most specific location for the event.
Your response MUST be a valid JSON object with two keys: "summary" and "location".

Example:
Reports:
- "Water entering ground floor of houses in Gandhi Nagar."
- "My friend in Gandhi Nagar says their entire street is underwater."
Response:
{
  "summary": "Multiple reports indicate that houses in Gandhi Nagar are experiencing ground-floor flooding.",
  "location": "Gandhi Nagar"
}

Reports to analyze:
---
- %s
---`, strings.Join(texts, "\n- "))

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if out.Summary == "" {
		return Summary{}, fmt.Errorf("%w: missing summary", ErrMalformed)
	}
	return out, nil
}

// RefineLocation rewrites a vague, user-provided location description into a
// searchable address for the geocoder.
func (c *Client) RefineLocation(ctx context.Context, region, vague string) (string, error) {
	prompt := fmt.Sprintf(`You are an expert at refining location descriptions for geocoding APIs.
Convert the following vague location description from %s into a more structured, searchable address.
Remove ambiguous terms like "near", "opposite", or "behind". Add ", %s" to make the location specific.

Vague description: %q

Respond with the cleaned description only.`, region, region, vague)

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	cleaned := strings.TrimSpace(stripFences(raw))
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty refinement", ErrMalformed)
	}
	return cleaned, nil
}

// EmbedBatch returns one fixed-dimension vector per input text, in order.
// Any failure invalidates the whole batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	model := "models/" + c.cfg.EmbeddingModel

	type content struct {
		Parts []part `json:"parts"`
	}
	type embedRequest struct {
		Model    string  `json:"model"`
		Content  content `json:"content"`
		TaskType string  `json:"taskType"`
	}
	reqBody := struct {
		Requests []embedRequest `json:"requests"`
	}{}
	for _, t := range texts {
		reqBody.Requests = append(reqBody.Requests, embedRequest{
			Model:    model,
			Content:  content{Parts: []part{{Text: t}}},
			TaskType: "CLUSTERING",
		})
	}

	var resp struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	url := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", c.cfg.BaseURL, model, c.cfg.APIKey)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrMalformed, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrMalformed, i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

type part struct {
	Text string `json:"text"`
}

// generate runs one generateContent call and returns the first candidate text.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	reqBody := struct {
		Contents []struct {
			Parts []part `json:"parts"`
		} `json:"contents"`
	}{
		Contents: []struct {
			Parts []part `json:"parts"`
		}{{Parts: []part{{Text: prompt}}}},
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.GenerativeModel, c.cfg.APIKey)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformed)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	return c.pacer.Wait(ctx)
}

// stripFences removes markdown code fences the model wraps JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
