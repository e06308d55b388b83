package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/platform"
)

// KeyTTL is how long a derived key is reused before the fragments are
// fetched again.
const KeyTTL = 300 * time.Second

// ErrNoKeyMaterial is returned when the nav answer lacks key fragments.
var ErrNoKeyMaterial = errors.New("signing: nav answer has no key fragments")

type navData struct {
	WbiImg struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

// Signer caches the mixing key and refreshes it through the governor.
type Signer struct {
	getter    platform.Getter
	endpoints platform.Endpoints
	cookie    string
	now       func() time.Time

	mu        sync.Mutex
	key       string
	derivedAt time.Time

	group singleflight.Group
}

// NewSigner returns a signer that fetches fragments from the nav endpoint.
// cookie may be empty.
func NewSigner(getter platform.Getter, endpoints platform.Endpoints, cookie string) *Signer {
	return &Signer{
		getter:    getter,
		endpoints: endpoints,
		cookie:    cookie,
		now:       time.Now,
	}
}

// Key returns the current mixing key, deriving a new one when the cached
// key is missing or older than KeyTTL.
func (s *Signer) Key(ctx context.Context) (string, error) {
	if key, ok := s.cached(); ok {
		return key, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("key", func() (any, error) {
		if key, ok := s.cached(); ok {
			return key, nil
		}
		return s.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// SignedQuery signs params with the current key.
func (s *Signer) SignedQuery(ctx context.Context, params map[string]any) (url.Values, error) {
	key, err := s.Key(ctx)
	if err != nil {
		return nil, err
	}
	return Sign(params, key, s.now()), nil
}

func (s *Signer) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == "" || s.now().Sub(s.derivedAt) >= KeyTTL {
		return "", false
	}
	return s.key, true
}

func (s *Signer) refresh(ctx context.Context) (string, error) {
	// The nav endpoint answers with a non-zero code for anonymous sessions
	// but still carries the fragments, so the envelope code is ignored.
	env, err := platform.FetchJSON[platform.Envelope[navData]](ctx, s.getter, s.endpoints.Nav(), governor.WithCookie(s.cookie))
	if err != nil {
		return "", fmt.Errorf("fetch key fragments: %w", err)
	}

	imgKey := keyFromURL(env.Data.WbiImg.ImgURL)
	subKey := keyFromURL(env.Data.WbiImg.SubURL)
	if imgKey == "" || subKey == "" {
		return "", ErrNoKeyMaterial
	}

	key, err := MixinKey(imgKey, subKey)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.key = key
	s.derivedAt = s.now()
	s.mu.Unlock()

	slog.Debug("derived signing key", "nav_code", env.Code)
	return key, nil
}
