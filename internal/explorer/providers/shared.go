package providers

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// SharedInfo lets concurrent sessions for the same animal share one
// in-flight information call.
type SharedInfo struct {
	next  model.InfoProvider
	group singleflight.Group
}

// ShareInfo wraps next so identical queries are fetched once at a time.
func ShareInfo(next model.InfoProvider) *SharedInfo {
	return &SharedInfo{next: next}
}

func (s *SharedInfo) Fetch(ctx context.Context, q model.Query) (*model.Facts, error) {
	v, err, shared := s.group.Do(flightKey(q), func() (any, error) {
		return s.next.Fetch(ctx, q)
	})
	if shared {
		logx.Debug().Str("animal", q.Normalized).Msg("info call shared with a concurrent session")
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.Facts), nil
}

// SharedImage is the image counterpart of SharedInfo.
type SharedImage struct {
	next  model.ImageProvider
	group singleflight.Group
}

// ShareImage wraps next so identical queries are generated once at a time.
func ShareImage(next model.ImageProvider) *SharedImage {
	return &SharedImage{next: next}
}

func (s *SharedImage) Generate(ctx context.Context, q model.Query, facts *model.Facts) (*model.Image, error) {
	v, err, shared := s.group.Do(flightKey(q), func() (any, error) {
		return s.next.Generate(ctx, q, facts)
	})
	if shared {
		logx.Debug().Str("animal", q.Normalized).Msg("image call shared with a concurrent session")
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.Image), nil
}

func flightKey(q model.Query) string {
	return q.Language + ":" + q.Normalized
}
