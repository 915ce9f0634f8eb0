package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

func newSnapshot() Snapshot {
	return Snapshot{
		Entity: types.Entity{
			ContentID: "c1",
			State:     types.StateArchived,
			History: []types.StateTransition{
				{ID: 1, From: types.StatePublished, To: types.StateArchived, Event: types.EventArchive, UserID: "eve"},
			},
		},
		ArchivedBy: "eve",
		ArchivedAt: time.UnixMilli(1700000000000).UTC(),
	}
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	sink, err := NewS3Sink(client, "farmstand-archive", "backups")
	require.NoError(t, err)

	snap := newSnapshot()
	require.NoError(t, sink.Backup(context.Background(), snap))

	assert.Equal(t, "farmstand-archive", aws.ToString(client.input.Bucket))
	assert.Equal(t, "backups/content/c1/c1-1700000000000.json", aws.ToString(client.input.Key))
	assert.Equal(t, "application/json", aws.ToString(client.input.ContentType))

	var got Snapshot
	require.NoError(t, json.Unmarshal(client.body, &got))
	assert.Equal(t, "eve", got.ArchivedBy)
	assert.Equal(t, types.StateArchived, got.Entity.State)
}

func TestS3Sink_Errors(t *testing.T) {
	_, err := NewS3Sink(nil, "bucket", "")
	assert.Error(t, err)
	_, err = NewS3Sink(&fakeS3{}, "", "")
	assert.Error(t, err)

	uploadErr := errors.New("access denied")
	sink, err := NewS3Sink(&fakeS3{err: uploadErr}, "bucket", "")
	require.NoError(t, err)
	assert.ErrorIs(t, sink.Backup(context.Background(), newSnapshot()), uploadErr)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := LogSink{Logger: zap.New(core)}

	require.NoError(t, sink.Backup(context.Background(), newSnapshot()))
	entries := logs.FilterMessage("archive backup requested").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].ContextMap()["content_id"])

	assert.NoError(t, LogSink{}.Backup(context.Background(), newSnapshot()))
}
