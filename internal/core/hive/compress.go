package hive

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold 是触发 zstd 压缩的原始负载字节数下限；小批次不值得付出
// 压缩/解压的 CPU 开销。
const compressThreshold = 16 * 1024

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error
)

func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

// maybeCompress 在负载超过 compressThreshold 时用 zstd 压缩它，返回
// (payload, compressed)。调用方需要把 compressed 标记随帧一起发送，
// 以便对端选择正确的解码路径。
func maybeCompress(payload []byte) ([]byte, bool, error) {
	if len(payload) < compressThreshold {
		return payload, false, nil
	}
	enc, err := getEncoder()
	if err != nil {
		return nil, false, fmt.Errorf("hive: init zstd encoder: %w", err)
	}
	return enc.EncodeAll(payload, nil), true, nil
}
