package httpx

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/reactord/reactord/internal/buffer"
)

func writeFixture(t *testing.T, root string, rel string, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestGetRootRequest checks a bare "GET /" is normalized to /index.html and
// served with a 200, matching Content-length, and a memory-mapped body.
func TestGetRootRequest(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "index.html", "<html>hello</html>")

	buf := buffer.New()
	buf.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))

	req := NewRequest()
	if err := req.Parse(context.Background(), buf, nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.State != StateFinish {
		t.Fatalf("expected parse to finish, got state %v", req.State)
	}
	if req.Path != "/index.html" {
		t.Fatalf("expected path normalized to /index.html, got %q", req.Path)
	}
	if !req.KeepAlive {
		t.Fatalf("expected keep-alive true")
	}

	resp := NewResponse(root, req.Path, 0, req.KeepAlive)
	hdr := buffer.New()
	if err := resp.Build(hdr); err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer resp.Unmap()

	if resp.Status != 200 {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}
	out := string(hdr.Peek())
	if !strings.Contains(out, "HTTP/1.1 200") || !strings.Contains(out, "Connection: keep-alive") || !strings.Contains(out, "Content-type: text/html") {
		t.Fatalf("unexpected header block: %q", out)
	}

	info, err := os.Stat(filepath.Join(root, "index.html"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !strings.Contains(out, "Content-length: "+strconv.FormatInt(info.Size(), 10)) {
		t.Fatalf("expected Content-length to match on-disk size, got %q", out)
	}
	if len(resp.MappedFile()) != int(info.Size()) {
		t.Fatalf("expected mapped file length %d, got %d", info.Size(), len(resp.MappedFile()))
	}
}

// TestMissingFileReturns404 checks a request for a nonexistent file falls
// back to the canned 404 page with a 404 status line.
func TestMissingFileReturns404(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "404.html", "<html>not found</html>")

	buf := buffer.New()
	buf.Append([]byte("GET /nope.html HTTP/1.1\r\n\r\n"))

	req := NewRequest()
	if err := req.Parse(context.Background(), buf, nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	resp := NewResponse(root, req.Path, 0, req.KeepAlive)
	hdr := buffer.New()
	if err := resp.Build(hdr); err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer resp.Unmap()

	if resp.Status != 404 {
		t.Fatalf("expected status 404, got %d", resp.Status)
	}
	out := string(hdr.Peek())
	if !strings.Contains(out, "HTTP/1.1 404") {
		t.Fatalf("expected 404 status line, got %q", out)
	}
}

// TestURLDecodeFormBody checks "+" decodes to a space and "%XX" decodes a
// percent escape.
func TestURLDecodeFormBody(t *testing.T) {
	form := make(map[string]string)
	decodeForm("a=hello+world&b=%21", form)

	if form["a"] != "hello world" {
		t.Fatalf("expected a=\"hello world\", got %q", form["a"])
	}
	if form["b"] != "!" {
		t.Fatalf("expected b=\"!\", got %q", form["b"])
	}
}

func TestResumableParseAcrossPartialReads(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))

	req := NewRequest()
	if err := req.Parse(context.Background(), buf, nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.State == StateFinish {
		t.Fatalf("expected parser to be waiting for more bytes, not finished")
	}
	if req.Path != "/index.html" {
		t.Fatalf("expected request line already parsed, got path %q", req.Path)
	}

	buf.Append([]byte("\r\n"))
	if err := req.Parse(context.Background(), buf, nil); err != nil {
		t.Fatalf("Parse (resume): %v", err)
	}
	if req.State != StateFinish {
		t.Fatalf("expected parse to finish after remaining bytes arrive, got %v", req.State)
	}
}

func TestOversizedRequestLineRejected(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte("GET /"))
	buf.Append(make([]byte, MaxRequestLineBytes+1))

	req := NewRequest()
	if err := req.Parse(context.Background(), buf, nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.State != StateFinish || !req.Bad {
		t.Fatalf("expected an oversized unterminated request line to be rejected, got state=%v bad=%v", req.State, req.Bad)
	}
}
