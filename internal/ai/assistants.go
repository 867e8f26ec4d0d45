package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// Batch and run statuses as reported by the remote service.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Purpose  string `json:"purpose"`
}

type VectorStore struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type VectorStoreFile struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type FileBatch struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	FileCounts struct {
		InProgress int `json:"in_progress"`
		Completed  int `json:"completed"`
		Failed     int `json:"failed"`
		Cancelled  int `json:"cancelled"`
		Total      int `json:"total"`
	} `json:"file_counts"`
}

// Terminal reports whether the batch has stopped moving.
func (b FileBatch) Terminal() bool {
	return b.Status != StatusInProgress && b.Status != StatusQueued
}

type AssistantRequest struct {
	Name           string
	Instructions   string
	Model          string
	VectorStoreIDs []string
}

type Assistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Thread struct {
	ID string `json:"id"`
}

type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type MessagePart struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text"`
}

type ThreadMessage struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content []MessagePart `json:"content"`
}

// Text returns the first text block of the message, empty if none.
func (m ThreadMessage) Text() string {
	for _, part := range m.Content {
		if part.Type == "text" {
			return part.Text.Value
		}
	}
	return ""
}

// UploadFile stores an opaque document with the remote service.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (File, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("build multipart file field failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return File{}, fmt.Errorf("copy file content failed: %w", err)
	}
	if err := writer.WriteField("purpose", purpose); err != nil {
		return File{}, fmt.Errorf("write purpose field failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return File{}, fmt.Errorf("finalize multipart body failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return File{}, fmt.Errorf("build upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setCommonHeaders(req, false)

	var file File
	if err := c.send(req, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

func (c *Client) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	var file File
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+fileID, nil, false, &file); err != nil {
		return File{}, err
	}
	return file, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, false, nil)
}

func (c *Client) CreateVectorStore(ctx context.Context, name string) (VectorStore, error) {
	body := map[string]interface{}{"name": name}
	var store VectorStore
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", body, true, &store); err != nil {
		return VectorStore{}, err
	}
	return store, nil
}

func (c *Client) DeleteVectorStore(ctx context.Context, storeID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+storeID, nil, true, nil)
}

func (c *Client) ListVectorStoreFiles(ctx context.Context, storeID string) ([]VectorStoreFile, error) {
	var list struct {
		Data []VectorStoreFile `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+storeID+"/files", nil, true, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// DetachVectorStoreFile removes a file reference from the store without
// deleting the underlying file object.
func (c *Client) DetachVectorStoreFile(ctx context.Context, storeID, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+storeID+"/files/"+fileID, nil, true, nil)
}

func (c *Client) CreateFileBatch(ctx context.Context, storeID string, fileIDs []string) (FileBatch, error) {
	body := map[string]interface{}{"file_ids": fileIDs}
	var batch FileBatch
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores/"+storeID+"/file_batches", body, true, &batch); err != nil {
		return FileBatch{}, err
	}
	return batch, nil
}

func (c *Client) RetrieveFileBatch(ctx context.Context, storeID, batchID string) (FileBatch, error) {
	var batch FileBatch
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+storeID+"/file_batches/"+batchID, nil, true, &batch); err != nil {
		return FileBatch{}, err
	}
	return batch, nil
}

func (c *Client) CreateAssistant(ctx context.Context, req AssistantRequest) (Assistant, error) {
	body := map[string]interface{}{
		"name":         req.Name,
		"instructions": req.Instructions,
		"model":        req.Model,
		"tools":        []map[string]string{{"type": "file_search"}},
		"tool_resources": map[string]interface{}{
			"file_search": map[string]interface{}{
				"vector_store_ids": req.VectorStoreIDs,
			},
		},
	}
	var assistant Assistant
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", body, true, &assistant); err != nil {
		return Assistant{}, err
	}
	return assistant, nil
}

func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/assistants/"+assistantID, nil, true, nil)
}

func (c *Client) CreateThread(ctx context.Context) (Thread, error) {
	var thread Thread
	if err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]interface{}{}, true, &thread); err != nil {
		return Thread{}, err
	}
	return thread, nil
}

func (c *Client) CreateThreadMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]interface{}{
		"role":    role,
		"content": content,
	}
	return c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, true, nil)
}

func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	body := map[string]interface{}{"assistant_id": assistantID}
	var run Run
	if err := c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, true, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, true, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListThreadMessages returns thread messages newest first, as the remote
// service orders them.
func (c *Client) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	path := "/threads/" + threadID + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}
