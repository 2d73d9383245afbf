package middleware

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/encryptcookie"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
)

func TestMethodOverrideFromHeaderAndForm(t *testing.T) {
	app := newStageApp(t, MethodOverride(), echoMethod())

	req := httptest.NewRequest("POST", "/item", nil)
	req.Header.Set(HeaderMethodOverride, "delete")
	if got := body(t, app, req); got != "DELETE" {
		t.Fatalf("header override ignored, got %s", got)
	}

	req = httptest.NewRequest("POST", "/item", strings.NewReader("_method=put&title=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if got := body(t, app, req); got != "PUT" {
		t.Fatalf("form override ignored, got %s", got)
	}

	req = httptest.NewRequest("GET", "/item", nil)
	req.Header.Set(HeaderMethodOverride, "DELETE")
	if got := body(t, app, req); got != "GET" {
		t.Fatalf("only POST may be overridden, got %s", got)
	}

	req = httptest.NewRequest("POST", "/item", nil)
	req.Header.Set(HeaderMethodOverride, "CONNECT")
	if got := body(t, app, req); got != "POST" {
		t.Fatalf("unsupported override should be ignored, got %s", got)
	}
}

func TestCookieParserPlain(t *testing.T) {
	app := newStageApp(t, CookieParser(""), server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		return c.SendString(Cookies(c)["lang"])
	}})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "lang=en; theme=dark")
	if got := body(t, app, req); got != "en" {
		t.Fatalf("cookie not parsed, got %q", got)
	}
}

func TestCookieParserWithSecret(t *testing.T) {
	app := newStageApp(t, CookieParser("calipso"), server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		c.Cookie(&fiber.Cookie{Name: "flash", Value: "saved"})
		return c.SendString(Cookies(c)["lang"] + "|" + Cookies(c)["forged"])
	}})

	sealed, err := encryptcookie.EncryptCookie("lang", "en", cookieKey("calipso"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "lang="+sealed+"; forged=plain")
	resp, err := app.Fiber().Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "en|" {
		t.Fatalf("expected decrypted cookie and dropped forgery, got %q", got)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "flash" && cookie.Value == "saved" {
			t.Fatalf("response cookie should be encrypted")
		}
	}
}

func TestResponseTimeRecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	app := newStageApp(t, ResponseTime(collector), server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}})

	resp, err := app.Fiber().Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get("X-Response-Time") == "" {
		t.Fatalf("expected X-Response-Time header")
	}
	n, err := testutil.GatherAndCount(collector.Registry(), "calipso_http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one request series, got %d", n)
	}
}

func TestSessionPersistsAcrossRequests(t *testing.T) {
	app := newStageApp(t, Session(SessionConfig{}), server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		sess := SessionFrom(c)
		if sess == nil {
			return c.SendString("no session")
		}
		visits, _ := sess.Get("visits").(string)
		visits += "x"
		sess.Set("visits", visits)
		return c.SendString(visits)
	}})

	resp, err := app.Fiber().Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	first, _ := io.ReadAll(resp.Body)
	if string(first) != "x" {
		t.Fatalf("unexpected first body: %s", first)
	}
	var sid string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			sid = cookie.Value
		}
	}
	if sid == "" {
		t.Fatalf("session cookie %s not set", SessionCookie)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sid})
	if got := body(t, app, req); got != "xx" {
		t.Fatalf("session not restored, got %s", got)
	}
}

func TestFormKeepsExtensions(t *testing.T) {
	dir := t.TempDir()
	collector := metrics.NewCollector()
	app := newStageApp(t, Form(FormConfig{UploadDir: dir, KeepExtensions: true, Metrics: collector}), server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		files := Files(c)["avatar"]
		if len(files) != 1 {
			return c.SendString("missing")
		}
		return c.SendString(files[0].Path + "|" + c.FormValue("title"))
	}})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("title", "hello")
	part, err := writer.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("png-bytes"))
	writer.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	got := body(t, app, req)
	parts := strings.SplitN(got, "|", 2)
	if len(parts) != 2 || parts[1] != "hello" {
		t.Fatalf("unexpected response: %s", got)
	}
	if filepath.Ext(parts[0]) != ".png" || filepath.Dir(parts[0]) != dir {
		t.Fatalf("upload should keep its extension inside the upload dir: %s", parts[0])
	}
	if filepath.Base(parts[0]) == "me.png" {
		t.Fatalf("upload should get a generated name")
	}
	data, err := os.ReadFile(parts[0])
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("upload content mismatch: %v %q", err, data)
	}
	expected := "# HELP calipso_uploads_total Uploaded files stored by the form stage\n" +
		"# TYPE calipso_uploads_total counter\n" +
		"calipso_uploads_total 1\n"
	if err := testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected), "calipso_uploads_total"); err != nil {
		t.Fatalf("upload not recorded: %v", err)
	}
}

func TestUploadName(t *testing.T) {
	if ext := filepath.Ext(uploadName("report.PDF", true)); ext != ".PDF" {
		t.Fatalf("extension should be preserved as sent, got %s", ext)
	}
	if ext := filepath.Ext(uploadName("report.pdf", false)); ext != "" {
		t.Fatalf("extension should be dropped, got %s", ext)
	}
	if ext := filepath.Ext(uploadName("noext", true)); ext != "" {
		t.Fatalf("unexpected extension %s", ext)
	}
}

func newStageApp(t *testing.T, stages ...server.Stage) *server.App {
	t.Helper()
	app, err := server.NewApp(server.AppOptions{Logger: logging.Discard(), BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	for _, stage := range stages {
		if err := app.Use(stage); err != nil {
			t.Fatalf("use %s: %v", stage.Tag, err)
		}
	}
	return app
}

func echoMethod() server.Stage {
	return server.Stage{Tag: server.TagRouter, Handler: func(c fiber.Ctx) error {
		return c.SendString(c.Method())
	}}
}

func body(t *testing.T, app *server.App, req *http.Request) string {
	t.Helper()
	resp, err := app.Fiber().Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	return string(data)
}
