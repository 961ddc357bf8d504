package sessionguard

import "context"

// Encryptor is the external encryption collaborator protecting session
// payloads at rest. The engine never inspects ciphertext; it stores and
// forwards the opaque blob unchanged. associatedData binds a blob to its
// session id so ciphertexts cannot be swapped between records.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte, associatedData string) ([]byte, error)
	Decrypt(ctx context.Context, blob []byte, associatedData string) ([]byte, error)
}
