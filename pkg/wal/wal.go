package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FilePerm WAL 只給服務本身讀寫 (rw-------)
const FilePerm fs.FileMode = 0600

// ErrCorrupt 紀錄內容與 checksum 不符
var ErrCorrupt = errors.New("wal: corrupt record")

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// entry 檔案中的一行
type entry struct {
	LSN  uint64          `json:"lsn"`
	CRC  uint32          `json:"crc"`
	Data json.RawMessage `json:"data"`
}

// WAL 以 JSON Lines 追加寫入的日誌檔
// 每筆紀錄帶遞增的 LSN 與 CRC32C，重播時檢查
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
	lsn  uint64
}

// Open 開啟或建立 WAL 檔案
//
// 參數:
//
//	path: 檔案路徑
//
// 回傳:
//
//	*WAL: 尚未重播的 WAL，寫入前需先呼叫 Replay 取得最後的 LSN
//	error: 開檔失敗
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FilePerm)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: file, path: path}, nil
}

// Append 寫入一筆紀錄並 fsync，回傳時資料已落地
func (w *WAL) Append(v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode wal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.lsn + 1
	line, err := json.Marshal(entry{LSN: next, CRC: crc32.Checksum(data, crcTable), Data: data})
	if err != nil {
		return 0, err
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return 0, err
	}
	if err := w.file.Sync(); err != nil {
		return 0, err
	}
	w.lsn = next
	return next, nil
}

// Replay 依序把每筆紀錄交給 fn
//
// 檔尾若有寫到一半的紀錄 (例如寫入途中當機)，會截斷到最後一筆完整紀錄，
// 之後的 Append 才不會接在壞資料後面。完整但 checksum 不符的紀錄回傳 ErrCorrupt。
func (w *WAL) Replay(fn func(lsn uint64, data []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	w.lsn = 0
	decoder := json.NewDecoder(w.file)
	var good int64
	for {
		var e entry
		if err := decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.file.Truncate(good)
			}
			return fmt.Errorf("%w at offset %d: %v", ErrCorrupt, good, err)
		}
		if crc32.Checksum(e.Data, crcTable) != e.CRC {
			return fmt.Errorf("%w: lsn %d", ErrCorrupt, e.LSN)
		}
		if e.LSN <= w.lsn {
			return fmt.Errorf("%w: lsn %d after %d", ErrCorrupt, e.LSN, w.lsn)
		}
		if err := fn(e.LSN, e.Data); err != nil {
			return err
		}
		w.lsn = e.LSN
		good = decoder.InputOffset()
	}
}

// LastLSN 最後一筆寫入或重播的 LSN
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

func (w *WAL) Path() string {
	return w.path
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}
