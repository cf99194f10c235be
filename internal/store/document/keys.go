package document

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Key prefixes. Entity records hold JSON; index keys hold the referenced
// record id so children can be found by dataset without scanning.
const (
	datasetPrefix        = "ds:"
	workspacePrefix      = "ws:"
	workspaceByDataset   = "wsds:"
	workspaceByName      = "wsnm:"
	trainingPrefix       = "tr:"
	trainingByDataset    = "trds:"
	feedbackPrefix       = "fb:"
	feedbackByDataset    = "fbds:"
	feedbackByPrediction = "fbpr:"
	blobParentPrefix     = "bl:"
	blobChunkPrefix      = "blc:"
)

func datasetKey(id uuid.UUID) []byte {
	return []byte(datasetPrefix + id.String())
}

func workspaceKey(id uuid.UUID) []byte {
	return []byte(workspacePrefix + id.String())
}

func workspaceDatasetKey(datasetID, id uuid.UUID) []byte {
	return []byte(workspaceByDataset + datasetID.String() + ":" + id.String())
}

func workspaceNameKey(datasetID uuid.UUID, name string) []byte {
	return []byte(workspaceByName + datasetID.String() + ":" + name)
}

func trainingKey(id uuid.UUID) []byte {
	return []byte(trainingPrefix + id.String())
}

func trainingDatasetKey(datasetID, id uuid.UUID) []byte {
	return []byte(trainingByDataset + datasetID.String() + ":" + id.String())
}

func feedbackKey(id uuid.UUID) []byte {
	return []byte(feedbackPrefix + id.String())
}

func feedbackDatasetKey(datasetID, id uuid.UUID) []byte {
	return []byte(feedbackByDataset + datasetID.String() + ":" + id.String())
}

func feedbackPredictionKey(predictionID string) []byte {
	return []byte(feedbackByPrediction + predictionID)
}

func blobParentKey(key string) []byte {
	return []byte(blobParentPrefix + key)
}

// blobChunkKey encodes the sequence number big-endian so chunks sort in
// ascending write order under their parent prefix.
func blobChunkKey(key string, seq uint32) []byte {
	prefix := []byte(blobChunkPrefix + key + ":")
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], seq)
	return buf
}
