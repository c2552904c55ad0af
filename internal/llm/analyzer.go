package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// schemaMapping routes a classified document type to the extraction schema
// used for the second pass. Types without a dedicated schema borrow a close
// one.
var schemaMapping = map[string]string{
	"promotion":   "banking",
	"invoice":     "invoice",
	"banking":     "banking",
	"credit_card": "credit_cards",
	"insurance":   "insurance",
	"receipt":     "invoice",
	"contract":    "invoice",
	"letter":      "invoice",
}

const classificationGuidelines = `
IMPORTANT CLASSIFICATION GUIDELINES:
- For document_type: Use "promotion" for ads, marketing materials, offers, deals, or promotional content (email, social media, direct mail, etc.)
- For promotions: Always set the industry field and primary_company field
- For co-branded offers (e.g., "American Airlines Mastercard"): Set primary_company as the main brand (American Airlines) and secondary_company as the partner (Mastercard)
- If document type is unclear, use "other"
- Industry must be one of the exact values listed in the enum
- For Credit Card industry, category should be one of the specific credit card categories listed
`

// PassResult is the recorded outcome of one schema pass.
type PassResult struct {
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`
	Error       string          `json:"error,omitempty"`
	SchemaValid *bool           `json:"schema_valid,omitempty"`
}

// Analysis is the stored result artifact.
type Analysis struct {
	DocumentAnalysis    map[string]*PassResult `json:"document_analysis"`
	ProcessingTimestamp string                 `json:"processing_timestamp"`
	SchemaPasses        []string               `json:"schema_passes"`
}

// Outcome summarizes a completed analysis for the state machine.
type Outcome struct {
	ResultKey    string
	DocumentType string
}

// Analyzer runs the two-pass analysis: classification first, then extraction
// with the schema the classification selects.
type Analyzer struct {
	client *Client
	store  storage.Storage
	logger logger.Logger
}

func NewAnalyzer(client *Client, store storage.Storage, log logger.Logger) *Analyzer {
	return &Analyzer{client: client, store: store, logger: log}
}

// Analyze reads the combined text, runs the schema passes and stores the
// result artifact. A failed classification pass fails the document; a failed
// or absent extraction pass does not.
func (a *Analyzer) Analyze(ctx context.Context, doc *models.Document) (*Outcome, error) {
	if doc.CombinedKey == "" {
		return nil, models.ClassificationFailure(fmt.Errorf("document %s has no combined text", doc.ID))
	}

	text, err := readObject(ctx, a.store, doc.CombinedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read combined text %s: %w", doc.CombinedKey, err)
	}

	schemas, err := LoadSchemas(ctx, a.store, a.logger)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		DocumentAnalysis:    map[string]*PassResult{},
		ProcessingTimestamp: time.Now().UTC().Format(time.RFC3339),
		SchemaPasses:        []string{},
	}

	classification := a.runPass(ctx, string(text), schemas, "classification", "classification")
	analysis.DocumentAnalysis["classification"] = classification
	analysis.SchemaPasses = append(analysis.SchemaPasses, "classification")

	if !classification.Success {
		// Persist what we have so the failure is inspectable, then fail.
		a.storeAnalysis(ctx, doc.ID, analysis)
		return nil, models.ClassificationFailure(fmt.Errorf("classification pass failed: %s", classification.Error))
	}

	docType := documentTypeFrom(classification.Data)
	a.logger.Info("Document classified",
		logger.String("document_id", doc.ID),
		logger.String("document_type", docType),
	)

	schemaName, ok := schemaMapping[docType]
	if !ok {
		schemaName = docType
	}
	if _, exists := schemas[schemaName]; exists {
		passName := "specific_extraction_" + schemaName
		extraction := a.runPass(ctx, string(text), schemas, schemaName, passName)
		analysis.DocumentAnalysis["specific_extraction"] = extraction
		analysis.SchemaPasses = append(analysis.SchemaPasses, passName)
	} else {
		a.logger.Info("No extraction schema for document type",
			logger.String("document_id", doc.ID),
			logger.String("document_type", docType),
			logger.String("schema", schemaName),
		)
	}

	resultKey, err := a.storeAnalysis(ctx, doc.ID, analysis)
	if err != nil {
		return nil, err
	}
	return &Outcome{ResultKey: resultKey, DocumentType: docType}, nil
}

func (a *Analyzer) runPass(ctx context.Context, text string, schemas SchemaSet, schemaName, passName string) *PassResult {
	prompt := buildPrompt(schemas[schemaName], text, passName == "classification")

	content, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return &PassResult{Success: false, Error: err.Error()}
	}

	result := &PassResult{Success: true, RawResponse: content}
	trimmed := strings.TrimSpace(content)
	if json.Valid([]byte(trimmed)) {
		result.Data = json.RawMessage(trimmed)
	} else {
		fallback, _ := json.Marshal(map[string]string{"raw_text": content})
		result.Data = fallback
	}

	if compiled, verr := schemas.Validate(schemaName, result.Data); compiled {
		valid := verr == nil
		result.SchemaValid = &valid
		if verr != nil {
			a.logger.Warn("Extracted data does not satisfy schema",
				logger.String("schema", schemaName),
				logger.Error(verr),
			)
		}
	}
	return result
}

func (a *Analyzer) storeAnalysis(ctx context.Context, docID string, analysis *Analysis) (string, error) {
	payload, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis for %s: %w", docID, err)
	}

	resultKey := fmt.Sprintf("results/%s_response.json", docID)
	if _, err := a.store.Store(ctx, strings.NewReader(string(payload)), resultKey, "application/json"); err != nil {
		return "", fmt.Errorf("failed to store analysis for %s: %w", docID, err)
	}
	return resultKey, nil
}

func buildPrompt(schema json.RawMessage, text string, classification bool) string {
	var b strings.Builder
	b.WriteString("Please analyze the following document text and extract information according to this schema:\n\n")
	b.WriteString("Schema: ")
	b.Write(indentJSON(schema))
	b.WriteString("\n")
	if classification {
		b.WriteString(classificationGuidelines)
	}
	b.WriteString("\nDocument Text:\n")
	b.WriteString(text)
	b.WriteString("\n\nPlease respond with a JSON object that follows the schema structure")
	if classification {
		b.WriteString(" exactly")
	}
	b.WriteString(".\n")
	return b.String()
}

func indentJSON(raw json.RawMessage) []byte {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return raw
	}
	return out.Bytes()
}

func documentTypeFrom(data json.RawMessage) string {
	var parsed struct {
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.DocumentType == "" {
		return "unknown"
	}
	return parsed.DocumentType
}
