package recognizer

import "context"

// Recognizer identifies music in a PCM payload. Implementations never
// return an error; timeouts, transport failures and malformed responses are
// all folded into the Result's ErrorMessage so the dispatcher can treat
// every provider uniformly.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, pcm []byte) Result
}
