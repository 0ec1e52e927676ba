// Package coreaudio is the audio unit backend: stream lifecycle, realtime
// callbacks, device hot-plug handling and duplex aggregate devices on top of
// the hal interfaces.
//
// Locking: Context.mu (an owned critical section) is taken before Stream.mu.
// Realtime callbacks never take either and only read atomics plus state that
// is replaced while the audio units are stopped. Reconfiguration work (reinit,
// collection diffing, stream teardown) runs on the Context's serial queue.
package coreaudio
