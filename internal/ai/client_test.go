package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssistantSendsBetaHeaderAndToolBinding(t *testing.T) {
	var gotBeta, gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/assistants", r.URL.Path)
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "asst_1", "name": "helper"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	assistant, err := client.CreateAssistant(context.Background(), AssistantRequest{
		Name:           "helper",
		Instructions:   "be helpful",
		Model:          "gpt-test",
		VectorStoreIDs: []string{"vs_1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "asst_1", assistant.ID)
	assert.Equal(t, "assistants=v2", gotBeta)
	assert.Equal(t, "Bearer test-key", gotAuth)

	tools := gotBody["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "file_search", tools[0].(map[string]interface{})["type"])
	resources := gotBody["tool_resources"].(map[string]interface{})
	search := resources["file_search"].(map[string]interface{})
	assert.Equal(t, []interface{}{"vs_1"}, search["vector_store_ids"].([]interface{}))
}

func TestChatCompletionSkipsBetaHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("OpenAI-Beta"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"bonjour"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	reply, err := client.ChatCompletion(context.Background(), "gpt-test", []ChatMessage{
		{Role: "user", Content: "salut"},
	})

	require.NoError(t, err)
	assert.Equal(t, "bonjour", reply)
}

func TestDecodeAPIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"Vector store vs_1 not found","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.RetrieveFile(context.Background(), "file_1")

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsStaleVectorStore(err))
}

func TestIsStaleVectorStoreRequiresStoreMention(t *testing.T) {
	plainNotFound := &APIError{StatusCode: http.StatusNotFound, Message: "No such assistant"}
	assert.True(t, IsNotFound(plainNotFound))
	assert.False(t, IsStaleVectorStore(plainNotFound))

	serverError := &APIError{StatusCode: http.StatusInternalServerError, Message: "vector store exploded"}
	assert.False(t, IsStaleVectorStore(serverError))
	assert.False(t, IsStaleVectorStore(nil))
}

func TestUploadFileMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistants", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "contract.pdf", header.Filename)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "file_1", "filename": header.Filename, "bytes": header.Size,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	uploaded, err := client.UploadFile(context.Background(), "contract.pdf", strings.NewReader("%PDF-1.4"), "assistants")

	require.NoError(t, err)
	assert.Equal(t, "file_1", uploaded.ID)
	assert.Equal(t, "contract.pdf", uploaded.Filename)
}
