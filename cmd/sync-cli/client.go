package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/foundry/contentsync/internal/api/handlers"
	"github.com/foundry/contentsync/internal/core/models"
	"github.com/foundry/contentsync/internal/util/hashing"
)

const (
	defaultServer = "http://localhost:8080"
	tokenEnv      = "CONTENTSYNC_TOKEN"
)

type clientOptions struct {
	server string
	token  string
}

func addClientFlags(flags *pflag.FlagSet) *clientOptions {
	opts := &clientOptions{}
	flags.StringVar(&opts.server, "server", defaultServer, "server URL")
	flags.StringVar(&opts.token, "token", os.Getenv(tokenEnv), "authentication token")
	return opts
}

func (o *clientOptions) newRequest(method, target string, body io.Reader) (*http.Request, error) {
	if o.token == "" {
		return nil, fmt.Errorf("--token or $%s is required", tokenEnv)
	}
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	return req, nil
}

// do sends the request and returns the response if its status is want.
// Any other status is turned into an error carrying the server message.
func (o *clientOptions) do(req *http.Request, want int) (*http.Response, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		defer resp.Body.Close()
		return nil, errors.New(formatHTTPError(resp))
	}
	return resp, nil
}

func (o *clientOptions) getJSON(target string, v any) error {
	req, err := o.newRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := o.do(req, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func cmdPush(args []string) error {
	flags := pflag.NewFlagSet("push", pflag.ContinueOnError)
	opts := addClientFlags(flags)
	add := flags.Bool("add", false, "fail if the path already exists instead of overwriting it")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 3 {
		return usageError("push <namespace> <path> <file> [--add]")
	}
	ns, remotePath, localPath := flags.Arg(0), flags.Arg(1), flags.Arg(2)

	// Hashed up front so the server can reject a body that changed in transit.
	sum, err := hashing.HashFile(localPath)
	if err != nil {
		return err
	}
	localHash := hashing.Format(sum)

	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("reading file info: %w", err)
	}

	pr := &progressReader{
		reader: file,
		total:  info.Size(),
		label:  "Uploading",
	}

	target := fileURL(opts.server, ns, remotePath)
	if *add {
		target += "?mode=add"
	}
	req, err := opts.newRequest(http.MethodPut, target, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(handlers.ContentHashHeader, localHash)
	req.ContentLength = info.Size()

	start := time.Now()
	resp, err := opts.do(req, http.StatusCreated)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Pushed %s/%s\n", ns, result.Path)
	fmt.Printf("  Hash:     %s\n", result.ContentHash)
	fmt.Printf("  Size:     %s\n", humanize.IBytes(uint64(result.Size)))
	fmt.Printf("  Revision: %d\n", result.Revision)
	fmt.Printf("  Duration: %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdPull(args []string) error {
	flags := pflag.NewFlagSet("pull", pflag.ContinueOnError)
	opts := addClientFlags(flags)
	output := flags.StringP("output", "o", "", "output file path (default: base name of the remote path)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return usageError("pull <namespace> <path> [--output FILE]")
	}
	ns, remotePath := flags.Arg(0), flags.Arg(1)
	if *output == "" {
		*output = path.Base(remotePath)
	}

	req, err := opts.newRequest(http.MethodGet, fileURL(opts.server, ns, remotePath), nil)
	if err != nil {
		return err
	}
	resp, err := opts.do(req, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	start := time.Now()
	n, got, err := download(resp.Body, *output, resp.ContentLength, resp.Header.Get(handlers.ContentHashHeader))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("Pulled %s/%s -> %s\n", ns, remotePath, *output)
	fmt.Printf("  Hash:     %s\n", got)
	fmt.Printf("  Size:     %s\n", humanize.IBytes(uint64(n)))
	fmt.Printf("  Duration: %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// download streams body into output through a ".part" file, hashing it
// on the way. The part file only replaces output when the computed hash
// equals want; an empty want skips the comparison.
func download(body io.Reader, output string, total int64, want string) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return 0, "", fmt.Errorf("creating output directory: %w", err)
	}

	tmpOutput := output + ".part"
	file, err := os.Create(tmpOutput)
	if err != nil {
		return 0, "", fmt.Errorf("creating output file: %w", err)
	}
	success := false
	defer func() {
		file.Close()
		if !success {
			_ = os.Remove(tmpOutput)
		}
	}()

	h := hashing.New()
	pw := &progressWriter{
		writer: io.MultiWriter(file, h),
		total:  total,
		label:  "Downloading",
	}

	n, err := io.Copy(pw, body)
	if err != nil {
		return n, "", fmt.Errorf("downloading: %w", err)
	}
	got := hashing.Format(h.Finalize())
	if want != "" && !strings.EqualFold(want, got) {
		return n, got, fmt.Errorf("content hash mismatch: server reported %s, received %s", want, got)
	}

	if err := file.Close(); err != nil {
		return n, got, fmt.Errorf("closing downloaded file: %w", err)
	}
	if err := os.Rename(tmpOutput, output); err != nil {
		return n, got, fmt.Errorf("finalizing output file: %w", err)
	}
	success = true
	return n, got, nil
}

func cmdList(args []string) error {
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	opts := addClientFlags(flags)
	search := flags.String("search", "", "only list namespaces whose name contains this text")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var namespaces []models.Namespace
	if err := opts.getJSON(namespacesURL(opts.server, *search), &namespaces); err != nil {
		return err
	}

	if len(namespaces) == 0 {
		if *search != "" {
			fmt.Printf("No namespaces matching '%s'.\n", *search)
		} else {
			fmt.Println("No namespaces found.")
		}
		return nil
	}

	fmt.Println("Namespaces:")
	for _, ns := range namespaces {
		fmt.Printf("  - %s\n", ns.Name)
	}
	return nil
}

func cmdLs(args []string) error {
	flags := pflag.NewFlagSet("ls", pflag.ContinueOnError)
	opts := addClientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usageError("ls <namespace>")
	}
	ns := flags.Arg(0)

	var info models.NamespaceInfo
	if err := opts.getJSON(namespaceURL(opts.server, ns), &info); err != nil {
		return err
	}

	if len(info.Files) == 0 {
		fmt.Printf("Namespace %s is empty.\n", info.Name)
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tSIZE\tREV\tUPDATED\tPATH")
	for _, f := range info.Files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			shortHash(f.ContentHash),
			humanize.IBytes(uint64(f.Size)),
			f.Revision,
			humanize.Time(f.UpdatedAt),
			f.Path,
		)
	}
	return tw.Flush()
}

func cmdDelete(args []string) error {
	flags := pflag.NewFlagSet("delete", pflag.ContinueOnError)
	opts := addClientFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return usageError("delete <namespace> <path>")
	}
	ns, remotePath := flags.Arg(0), flags.Arg(1)

	req, err := opts.newRequest(http.MethodDelete, fileURL(opts.server, ns, remotePath), nil)
	if err != nil {
		return err
	}
	resp, err := opts.do(req, http.StatusOK)
	if err != nil {
		return err
	}
	resp.Body.Close()

	fmt.Printf("Deleted %s/%s\n", ns, remotePath)
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// progressReader wraps a reader and prints progress.
type progressReader struct {
	reader  io.Reader
	total   int64
	current int64
	label   string
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	printProgress(pr.label, pr.current, pr.total)
	return n, err
}

// progressWriter wraps a writer and prints progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	current int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.current += int64(n)
	printProgress(pw.label, pw.current, pw.total)
	return n, err
}

func printProgress(label string, current, total int64) {
	fmt.Fprintf(os.Stderr, "\r%s", progressLine(label, current, total))
}

func progressLine(label string, current, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s: %s", label, humanize.IBytes(uint64(current)))
	}
	pct := float64(current) / float64(total) * 100
	barLen := 30
	filled := min(int(pct/100*float64(barLen)), barLen)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barLen-filled)
	return fmt.Sprintf("%s: [%s] %.1f%% %s/%s", label, bar, pct, humanize.IBytes(uint64(current)), humanize.IBytes(uint64(total)))
}

// fileURL escapes every segment of the remote path separately so that
// slashes keep separating directories on the server side.
func fileURL(server, ns, filePath string) string {
	segments := strings.Split(strings.Trim(filePath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/api/v1/files/%s/%s", strings.TrimRight(server, "/"), url.PathEscape(ns), strings.Join(segments, "/"))
}

func namespacesURL(server, search string) string {
	u := strings.TrimRight(server, "/") + "/api/v1/namespaces"
	if search != "" {
		u += "?search=" + url.QueryEscape(search)
	}
	return u
}

func namespaceURL(server, ns string) string {
	return fmt.Sprintf("%s/api/v1/namespaces/%s", strings.TrimRight(server, "/"), url.PathEscape(ns))
}

func formatHTTPError(resp *http.Response) string {
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		return fmt.Sprintf("error (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var payload models.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("error (%d): %s", resp.StatusCode, payload.Message)
	}
	return fmt.Sprintf("error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
