package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/bodul/xwindex/internal/config"
	"github.com/bodul/xwindex/internal/puzzle"
)

// GeminiClient extracts puzzles from photos with a Gemini model on Vertex AI.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient authenticates with Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
func NewGeminiClient(ctx context.Context, gc config.GeminiConfig) (*GeminiClient, error) {
	if gc.ProjectID == "" {
		return nil, errors.New("gemini: project ID required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  gc.ProjectID,
		Location: gc.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: gc.Model}, nil
}

const scanPrompt = `Analyse this photo of a solved crossword grid.

Extract the complete puzzle in the following JSON format:
{
  "size": {"rows": <number of rows>, "cols": <number of columns>},
  "grid": ["A", "B", ".", ...],
  "gridnums": [1, 2, 0, ...],
  "answers": {
    "across": ["WORD", ...],
    "down": ["WORD", ...]
  }
}

Rules:
- "grid" lists every cell row by row, left to right, one uppercase letter per cell.
- Black squares are ".".
- "gridnums" has one entry per cell: the printed clue number, or 0 when the cell has none.
- "answers.across" lists the across answers in clue number order, "answers.down" the down answers.
- Reply ONLY with the JSON, without comments or markdown.`

// ScanPuzzle sends a photo of a solved grid to Gemini and returns the
// extracted puzzle.
func (g *GeminiClient) ScanPuzzle(ctx context.Context, imageData []byte, mimeType string) (*puzzle.Puzzle, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: scanPrompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: imageData}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.1)),
			TopP:             genai.Ptr(float32(1)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("empty gemini response")
	}
	return parseScan(text)
}

// parseScan decodes the model output. The puzzle must pass Validate and
// carry at least one answer.
func parseScan(text string) (*puzzle.Puzzle, error) {
	var p puzzle.Puzzle
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("parse puzzle JSON: %w\nraw response: %s", err, text)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid puzzle: %w", err)
	}
	if len(p.Answers.Across) == 0 && len(p.Answers.Down) == 0 {
		return nil, errors.New("invalid puzzle: no answers")
	}
	return &p, nil
}
