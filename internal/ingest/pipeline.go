package ingest

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/loader"
	"github.com/xxxsen/docseek/internal/model"
	"github.com/xxxsen/docseek/internal/splitter"
)

// Pipeline runs load, split and index write for one merged file.
type Pipeline struct {
	dispatcher *loader.Dispatcher
	splitter   *splitter.Splitter
	writer     *Writer
}

func NewPipeline(dispatcher *loader.Dispatcher, sp *splitter.Splitter, writer *Writer) *Pipeline {
	return &Pipeline{dispatcher: dispatcher, splitter: sp, writer: writer}
}

func (p *Pipeline) Ingest(ctx context.Context, path, ext string, prov model.Provenance) (int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("upload_id", prov.UploadID), zap.String("file_name", prov.FileName))
	units, err := p.dispatcher.Load(ctx, path, ext, prov)
	if err != nil {
		return 0, err
	}
	passages := p.splitter.Split(ctx, units)
	if len(passages) == 0 {
		logger.Warn("document produced no passages")
		return 0, nil
	}
	written, err := p.writer.Write(ctx, passages)
	if err != nil {
		logger.Error("index write failed", zap.Int("written", written), zap.Int("total", len(passages)), zap.Error(err))
		return written, err
	}
	logger.Info("document indexed", zap.Int("units", len(units)), zap.Int("passages", written))
	return written, nil
}

// Delete removes every record of the upload; deleting nothing is not an error.
func (p *Pipeline) Delete(ctx context.Context, uploadID string) (int, error) {
	return p.writer.DeleteByUpload(ctx, uploadID)
}
