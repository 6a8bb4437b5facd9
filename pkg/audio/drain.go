package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a streaming producer (e.g. a chunk channel from
// tts.StreamProvider) whose output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
