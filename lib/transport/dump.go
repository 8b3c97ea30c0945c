package transport

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"astroquery/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

// FilesystemDump writes every exchange made by a resty client to its own file, numbered in the
// order responses arrive.
type FilesystemDump struct {
	directory string
	counter   *atomic.Uint64
}

func NewFilesystemDump(dir string) (FilesystemDump, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return FilesystemDump{}, err
	}
	return FilesystemDump{directory: dir, counter: &atomic.Uint64{}}, nil
}

func (o FilesystemDump) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

func (o FilesystemDump) instrument(client *resty.Client) {
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		n := o.counter.Add(1)
		o.Write(fmt.Sprintf("%04d-%s.txt", n, strings.ToLower(res.Request.Method)), telemetry.FormatHttpMessage(res))
		return nil
	})
}
