package restyutil

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// FilesystemOutput writes one file per http response into a directory, it is
// meant for inspecting what a storefront actually returned.
type FilesystemOutput struct {
	directory string
	counter   *atomic.Int64
}

// NewFilesystemOutput clears dir and recreates it.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir, counter: &atomic.Int64{}}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write response dump", "id", id, "err", err)
	}
}

func fileID(seq int64, rawURL string) string {
	name := rawURL
	parsed, err := url.Parse(rawURL)
	if err == nil {
		name = parsed.Host + parsed.Path
		if parsed.RawQuery != "" {
			name += "_" + parsed.RawQuery
		}
	}
	replacer := strings.NewReplacer("/", "_", "?", "_", "&", "_", "=", "-", ":", "_")
	return fmt.Sprintf("%05d_%s", seq, replacer.Replace(name))
}

// DumpResponses writes the status line and body of every response client
// receives to output.
func DumpResponses(client *resty.Client, output FilesystemOutput) {
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		seq := output.counter.Add(1)
		output.Write(
			fileID(seq, res.Request.URL),
			fmt.Sprintf("%s %s\n%d\n\n%s", res.Request.Method, res.Request.URL, res.StatusCode(), res.Body()),
		)
		return nil
	})
}
