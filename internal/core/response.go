package core

import "time"

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the JSON payload returned to callers of the generate operation.
type Response struct {
	Status    string    `json:"status"`
	Data      *SongData `json:"data,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// SongData describes a generated song.
type SongData struct {
	SongID         string   `json:"songId"`
	Lyrics         string   `json:"lyrics,omitempty"`
	OriginalAudio  string   `json:"originalAudio,omitempty"`
	GeneratedAudio string   `json:"generatedAudio"`
	ChunkAudio     []string `json:"chunkAudio,omitempty"`
	CombinedAudio  string   `json:"combinedAudio,omitempty"`
	Timestamp      string   `json:"timestamp"`
}

// NewResponse converts an outcome into its wire payload.
func NewResponse(outcome Outcome) Response {
	if outcome.OK() {
		success := outcome.Success
		data := &SongData{
			SongID:         success.SongID,
			Lyrics:         success.Lyrics,
			OriginalAudio:  success.OriginalURL,
			GeneratedAudio: success.SongURL(),
			ChunkAudio:     nil,
			CombinedAudio:  success.CombinedURL,
			Timestamp:      success.Timestamp.Format(time.RFC3339Nano),
		}

		if success.CombinedURL != "" {
			data.ChunkAudio = success.GeneratedURLs
		}

		return Response{Status: StatusSuccess, Data: data, Reason: "", Error: "", Timestamp: ""}
	}

	failure := outcome.Failure
	if failure == nil {
		failure = NewFailure(ReasonSynthesisFailure, "run produced no outcome", nil)
	}

	return Response{
		Status:    StatusError,
		Data:      nil,
		Reason:    failure.Reason,
		Error:     failure.Message,
		Timestamp: failure.Timestamp.Format(time.RFC3339Nano),
	}
}
