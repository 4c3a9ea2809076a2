package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 10},
	}
}

func TestExtract_Success(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			strings.Contains(req.System, "event data extractor") &&
			strings.Contains(req.Messages[0].Content, "---\nPage body\n---")
	})).Return(textResponse("Fair; June 1, 2030, 10:00 AM;June 1, 2030, 2:00 PM;\n1 Main St Springfield IL 62701; Talks;\r\nGreen Org"), nil)

	var tokens int64
	e := New(client, Options{Model: "claude-haiku-4-5-20251001"}, func(u anthropic.TokenUsage) { tokens += u.Total() })

	fields, err := e.Extract(context.Background(), "Page body", model.DefaultFieldSchema())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Fair", "June 1, 2030, 10:00 AM", "June 1, 2030, 2:00 PM",
		"1 Main St Springfield IL 62701", "Talks", "Green Org",
	}, fields)
	assert.Equal(t, int64(110), tokens)
	client.AssertExpectations(t)
}

func TestExtract_FieldCountMismatch(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("a;b;c;d;e"), nil)

	fields, err := New(client, Options{}, nil).Extract(context.Background(), "x", model.DefaultFieldSchema())
	require.Error(t, err)
	assert.Equal(t, resilience.KindFieldCount, resilience.KindOf(err))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, fields, "partial fields are kept")
}

func TestExtract_TransportFailure(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	fields, err := New(client, Options{}, nil).Extract(context.Background(), "x", model.DefaultFieldSchema())
	require.Error(t, err)
	assert.Nil(t, fields)
	assert.Equal(t, resilience.KindLLMTransport, resilience.KindOf(err))
	assert.Contains(t, err.Error(), "extract: create message")
}

func TestExtract_TruncatesPageText(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "---\néééé\n---")
	})).Return(textResponse("only"), nil)

	schema, err := model.NewFieldSchema([]model.FieldSpec{{Name: "Title"}})
	require.NoError(t, err)

	fields, err := New(client, Options{MaxPageChars: 4}, nil).Extract(context.Background(), "ééééééé", schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, fields)
	client.AssertExpectations(t)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("BODY", model.DefaultFieldSchema())
	assert.Contains(t, p, "The name of the event,The start datetime")
	assert.Contains(t, p, "THERE ARE 6 FIELDS")
	assert.True(t, strings.HasSuffix(p, "---\nBODY\n---"))
}

func TestParseFields(t *testing.T) {
	assert.Nil(t, ParseFields("  "))
	assert.Equal(t, []string{"a", "b c", ""}, ParseFields(" a ;b\n c; "))
	assert.Equal(t, []string{"one"}, ParseFields("one"))
}
