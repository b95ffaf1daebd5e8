package objstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/presslabs/z3/internal/etag"
)

// FakeStore is an in-memory Store for tests. It stores uploaded parts keyed
// by upload ID and computes the same composite ETag a real S3-compatible
// endpoint would, so tests can assert against the fixture in the etag
// package without talking to the network.
type FakeStore struct {
	mu sync.Mutex

	objects map[string]ObjectMeta
	bodies  map[string][]byte

	uploads map[string]*fakeUpload

	failUploadPartIndex int // 1-based; 0 disables
	failInitiate        bool
}

type fakeUpload struct {
	keyName string
	headers map[string]string
	parts   map[int][]byte
}

var _ Store = (*FakeStore)(nil)

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		objects: make(map[string]ObjectMeta),
		bodies:  make(map[string][]byte),
		uploads: make(map[string]*fakeUpload),
	}
}

// FailUploadPart makes the part at the given 1-based index fail once it is
// attempted, simulating a transient network error.
func (f *FakeStore) FailUploadPart(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUploadPartIndex = index
}

// FailNextInitiate makes the next InitiateMultipart call fail.
func (f *FakeStore) FailNextInitiate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInitiate = true
}

func (f *FakeStore) InitiateMultipart(ctx context.Context, keyName string, headers map[string]string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failInitiate {
		f.failInitiate = false
		return nil, fmt.Errorf("fake: initiate multipart upload refused")
	}

	h := &Handle{UploadID: uuid.NewString(), KeyName: keyName}
	f.uploads[h.UploadID] = &fakeUpload{keyName: keyName, headers: splitHeaders(headers), parts: make(map[int][]byte)}
	return h, nil
}

func (f *FakeStore) UploadPart(ctx context.Context, h *Handle, index int, chunk []byte) (PartUploadResult, error) {
	f.mu.Lock()
	if f.failUploadPartIndex == index {
		f.failUploadPartIndex = 0
		f.mu.Unlock()
		return PartUploadResult{}, fmt.Errorf("fake: upload part %d failed", index)
	}
	up, ok := f.uploads[h.UploadID]
	f.mu.Unlock()
	if !ok {
		return PartUploadResult{}, fmt.Errorf("fake: no such upload %s", h.UploadID)
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	f.mu.Lock()
	up.parts[index] = buf
	f.mu.Unlock()

	sum := md5.Sum(chunk)
	return PartUploadResult{MD5Hex: hex.EncodeToString(sum[:])}, nil
}

func (f *FakeStore) Complete(ctx context.Context, h *Handle) (string, error) {
	if err := h.markComplete(); err != nil {
		return "", err
	}

	f.mu.Lock()
	up, ok := f.uploads[h.UploadID]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("fake: no such upload %s", h.UploadID)
	}

	indexes := make([]int, 0, len(up.parts))
	for idx := range up.parts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var body []byte
	digests := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		part := up.parts[idx]
		body = append(body, part...)
		sum := md5.Sum(part)
		digests = append(digests, hex.EncodeToString(sum[:]))
	}

	tag, err := etag.Multipart(digests)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.bodies[up.keyName] = body
	f.objects[up.keyName] = ObjectMeta{Name: up.keyName, Size: int64(len(body)), Metadata: up.headers}
	delete(f.uploads, h.UploadID)
	f.mu.Unlock()

	return tag, nil
}

func (f *FakeStore) Cancel(ctx context.Context, h *Handle) error {
	if err := h.markCancelled(); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.uploads, h.UploadID)
	f.mu.Unlock()
	return nil
}

func (f *FakeStore) List(ctx context.Context, prefix string) ([]KeyRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var refs []KeyRef
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			refs = append(refs, KeyRef{Key: name})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (f *FakeStore) GetKey(ctx context.Context, ref KeyRef) (ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	meta, ok := f.objects[ref.Key]
	if !ok {
		return ObjectMeta{}, fmt.Errorf("fake: no such object %s", ref.Key)
	}
	return meta, nil
}

// Body returns the reassembled object body stored under name, for assertions
// in tests that care about upload content rather than just the ETag.
func (f *FakeStore) Body(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[name]
}
