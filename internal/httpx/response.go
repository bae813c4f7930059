package httpx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/buffer"
)

// mimeTable covers the extensions this server's static resources use;
// anything else (including extension-less paths) falls back to text/plain.
var mimeTable = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "application/javascript",
}

func mimeFor(path string) string {
	if mt, ok := mimeTable[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "text/plain"
}

// Canned error pages. server.ValidateResourceRoot checks these (plus the
// auth redirect targets) exist under ResourceRoot at startup.
const (
	page400 = "/400.html"
	page403 = "/403.html"
	page404 = "/404.html"
)

var statusReason = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// Response builds the HTTP/1.1 response for a parsed Request and attaches a
// memory-mapped file to a two-segment scatter-write vector, so the file
// body never has to pass through a userspace copy on its way out.
type Response struct {
	Status    int
	KeepAlive bool

	resourceRoot string
	requestPath  string

	mapped   []byte
	fileSize int64
}

// NewResponse prepares a response for requestPath rooted at resourceRoot.
// status is the status pre-assigned by the caller (e.g. 400 from a failed
// parse); pass 0 to let Build resolve it from the filesystem.
func NewResponse(resourceRoot, requestPath string, status int, keepAlive bool) *Response {
	return &Response{
		Status:       status,
		KeepAlive:    keepAlive,
		resourceRoot: resourceRoot,
		requestPath:  requestPath,
	}
}

// Unmap releases any mapped file region. Idempotent. Build calls it
// internally before replacing a prior mapping; callers must also call it
// when the response is done being written.
func (resp *Response) Unmap() error {
	if resp.mapped == nil {
		return nil
	}
	err := unix.Munmap(resp.mapped)
	resp.mapped = nil
	resp.fileSize = 0
	return err
}

// Build resolves the target file, writes the status line, headers, and
// Content-length into hdr, and (on success) memory-maps the file so the
// caller can attach resp.MappedFile() as the second scatter-write segment.
// On a resolution or mmap failure, Build synthesizes an HTML body and
// appends it to hdr directly; there is no file segment in that case.
func (resp *Response) Build(hdr *buffer.ByteBuffer) error {
	if err := resp.Unmap(); err != nil {
		return err
	}

	path := resp.resolvePath()
	fullPath := filepath.Join(resp.resourceRoot, path)

	info, err := os.Stat(fullPath)
	switch {
	case err != nil || info.IsDir():
		resp.Status = 404
		path = page404
		fullPath = filepath.Join(resp.resourceRoot, path)
		info, err = os.Stat(fullPath)
	case info.Mode().Perm()&0o444 == 0:
		resp.Status = 403
		path = page403
		fullPath = filepath.Join(resp.resourceRoot, path)
		info, err = os.Stat(fullPath)
	case resp.Status == 0:
		resp.Status = 200
	}

	resp.writeStatusAndHeaders(hdr, path)

	if err != nil {
		resp.writeErrorBody(hdr, "resource unavailable")
		return nil
	}

	f, err := os.Open(fullPath)
	if err != nil {
		resp.writeErrorBody(hdr, "open failed")
		return nil
	}
	defer f.Close()

	size := info.Size()
	if size == 0 {
		hdr.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", size)))
		return nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		resp.writeErrorBody(hdr, "mmap failed")
		return nil
	}

	resp.mapped = mapped
	resp.fileSize = size
	hdr.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", size)))
	return nil
}

// resolvePath re-derives the 400 page path when Status was pre-assigned by
// the parser (a malformed request line never reaches Build with a usable
// requestPath).
func (resp *Response) resolvePath() string {
	if resp.Status == 400 {
		return page400
	}
	return resp.requestPath
}

func (resp *Response) writeStatusAndHeaders(hdr *buffer.ByteBuffer, path string) {
	reason := statusReason[resp.Status]
	if reason == "" {
		reason = "Error"
	}
	hdr.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.Status, reason)))

	if resp.KeepAlive {
		hdr.Append([]byte("Connection: keep-alive\r\nkeep-alive: max=6, timeout=120\r\n"))
	} else {
		hdr.Append([]byte("Connection: close\r\n"))
	}

	hdr.Append([]byte(fmt.Sprintf("Content-type: %s\r\n", mimeFor(path))))
}

// writeErrorBody synthesizes a tiny HTML body for a resource failure and
// appends it (with its own Content-length) directly to hdr, with no file
// segment to follow.
func (resp *Response) writeErrorBody(hdr *buffer.ByteBuffer, reason string) {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1><p>%s</p></body></html>", resp.Status, statusReason[resp.Status], reason)
	hdr.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n%s", len(body), body)))
}

// MappedFile returns the current file segment for the scatter-write
// vector, or nil if the response has no attached file (error body case).
func (resp *Response) MappedFile() []byte {
	return resp.mapped
}
