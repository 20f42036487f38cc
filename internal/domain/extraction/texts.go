package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirTextSource reads document text from <dir>/<document id>.txt, for
// corpora exported from the binary store ahead of a run.
type DirTextSource struct {
	dir string
}

// NewDirTextSource returns a TextSource rooted at dir.
func NewDirTextSource(dir string) *DirTextSource {
	return &DirTextSource{dir: dir}
}

func (s *DirTextSource) DocumentTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if id == "" || filepath.Base(id) != id {
			return nil, fmt.Errorf("invalid document id %q", id)
		}
		data, err := os.ReadFile(filepath.Join(s.dir, id+".txt"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", id, err)
		}
		out[id] = string(data)
	}
	return out, nil
}
