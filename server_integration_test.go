package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"cupomapi/pkg/cupom"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// stubRecognizer replaces tesseract in tests so the HTTP flow can run
// without the native library installed.
type stubRecognizer struct {
	text string
	err  error
}

func (s stubRecognizer) Recognize(img image.Image) (string, error) {
	return s.text, s.err
}

func setupTestServer(t *testing.T, ocrText string) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	initDB()
	seedDB()
	pipe = cupom.New(stubRecognizer{text: ocrText})
	r := gin.Default()
	setupRoutes(r)
	return r
}

// receiptUpload builds a multipart body carrying a small PNG under the
// "file" field with an image content type.
func receiptUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := imaging.New(64, 64, color.White)
	var png bytes.Buffer
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="cupom.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(png.Bytes()); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()
	return buf, mw.FormDataContentType()
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t, "SUPERMERCADO EXEMPLO\nVALOR TOTAL R$ 45,90\n")

	// 1. Register user
	regBody, _ := json.Marshal(map[string]string{"username": "user1", "password": "pass123"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(regBody), "", "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		b := resp.Body.String()
		t.Fatalf("register failed status=%d body=%s", resp.Code, b)
	}

	// 2. Login
	loginBody, _ := json.Marshal(map[string]string{"username": "user1", "password": "pass123"})
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(loginBody), "", "application/json")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("login failed status=%d body=%s", resp.Code, b)
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 3. Extract total from receipt upload; the token attributes the row
	buf, ct := receiptUpload(t)
	resp = performRequest(r, http.MethodPost, "/extrair-valor", buf, token, ct)
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("extrair-valor failed status=%d body=%s", resp.Code, b)
	}
	var extResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &extResp)
	if v, _ := extResp["valor_total"].(float64); v != 45.90 {
		t.Fatalf("expected valor_total 45.90 got %+v", extResp)
	}

	// 4. Debug endpoint returns the stage thumbnails
	buf, ct = receiptUpload(t)
	resp = performRequest(r, http.MethodPost, "/debug-processamento", buf, "", ct)
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("debug-processamento failed status=%d body=%s", resp.Code, b)
	}
	var dbgResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &dbgResp)
	for _, key := range []string{"imagem_original", "imagem_cortada", "imagem_melhorada", "texto_extraido"} {
		if s, _ := dbgResp[key].(string); s == "" {
			t.Fatalf("missing %s in debug response: %+v", key, dbgResp)
		}
	}

	// 5. Non-image upload rejected before the pipeline runs
	buf = &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = w.Write([]byte("SOME CONTENT"))
	_ = mw.Close()
	resp = performRequest(r, http.MethodPost, "/extrair-valor", buf, "", mw.FormDataContentType())
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-image upload got %d", resp.Code)
	}

	// 6. Extraction history requires auth
	unauth := performRequest(r, http.MethodGet, "/extractions", nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized extractions got %d", unauth.Code)
	}
	resp = performRequest(r, http.MethodGet, "/extractions", nil, token, "")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("list extractions failed status=%d body=%s", resp.Code, b)
	}
	var history []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &history)
	found := false
	for _, item := range history {
		if name, _ := item["FileName"].(string); name == "cupom.png" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("authenticated upload missing from user history: %+v", history)
	}

	// 7. /me with token
	resp = performRequest(r, http.MethodGet, "/me", nil, token, "")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("me failed status=%d body=%s", resp.Code, b)
	}
}

func TestExtractNoTotalReturns404(t *testing.T) {
	r := setupTestServer(t, "CUPOM SEM NADA DE UTIL\n")
	buf, ct := receiptUpload(t)
	resp := performRequest(r, http.MethodPost, "/extrair-valor", buf, "", ct)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no total found got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	initDB()
}
