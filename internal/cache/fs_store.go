package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// storesDir 是 basePath 下专属的仓库目录；Stores/DropStore 只作用于其中，
// basePath 里的其他文件（日志、sqlite 数据库等）不会被枚举或删除。
const storesDir = "stores"

// NewStore 以 <basePath>/stores 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	root := filepath.Join(abs, storesDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: root,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一 Locator 的读写，basePath 指向 stores 目录。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是 .meta 旁路文件的内容，记录原始 URL 以便校验哈希碰撞。
type entryMeta struct {
	URL     string      `json:"url"`
	Status  int         `json:"status"`
	Header  http.Header `json:"header"`
	ModTime time.Time   `json:"mod_time"`
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, metaPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	// 正文与 .meta 分两次 rename，读取时持有同一把条目锁，避免拿到新正文配旧状态码。
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}
	if meta.URL != locator.Key {
		return nil, ErrNotFound
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    meta.Status,
		Header:    meta.Header,
		SizeBytes: info.Size(),
		ModTime:   meta.ModTime,
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bodyPath, metaPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	written, err := writeAtomic(bodyPath, func(w io.Writer) (int64, error) {
		return copyWithContext(ctx, w, body)
	})
	if err != nil {
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	meta := entryMeta{
		URL:     locator.Key,
		Status:  status,
		Header:  cloneHeader(opts.Header),
		ModTime: modTime,
	}
	if _, err := writeAtomic(metaPath, func(w io.Writer) (int64, error) {
		return 0, json.NewEncoder(w).Encode(meta)
	}); err != nil {
		os.Remove(bodyPath)
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		Status:    meta.Status,
		Header:    meta.Header,
		SizeBytes: written,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return err
	}
	defer unlock()

	bodyPath, metaPath, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	for _, p := range []string{metaPath, bodyPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) Stores(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) DropStore(ctx context.Context, name string) (bool, error) {
	if err := validateStoreName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(locator Locator) (func(), error) {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}, nil
}

// entryPath 返回正文与元数据文件路径：<base>/stores/<store>/<hh>/<sha1>.body|.meta。
func (s *fileStore) entryPath(locator Locator) (string, string, error) {
	if err := validateStoreName(locator.Store); err != nil {
		return "", "", err
	}
	if locator.Key == "" {
		return "", "", errors.New("cache key required")
	}

	sum := sha1.Sum([]byte(locator.Key))
	digest := hex.EncodeToString(sum[:])
	dir := filepath.Join(s.basePath, locator.Store, digest[:2])
	base := filepath.Join(dir, digest)
	return base + ".body", base + ".meta", nil
}

func validateStoreName(name string) error {
	if name == "" {
		return errors.New("store name required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid store name: %s", name)
	}
	return nil
}

func readMeta(path string) (entryMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMeta{}, ErrNotFound
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode cache meta: %w", err)
	}
	return meta, nil
}

// writeAtomic 先写临时文件再 rename，失败时清理临时文件。
func writeAtomic(target string, fill func(io.Writer) (int64, error)) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := fill(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func locatorKey(locator Locator) string {
	return locator.Store + "::" + locator.Key
}
