// Package metrics holds the prometheus instruments for the drive core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the transfer instrumentation. All services share one
// instance registered on the injected registry.
type Metrics struct {
	ChunkUploadDuration   *prometheus.HistogramVec
	ChunkDownloadDuration *prometheus.HistogramVec
	FileUploads           *prometheus.CounterVec
	FileDownloads         *prometheus.CounterVec
	UploadsRejected       prometheus.Counter
	BytesUploaded         prometheus.Counter
}

// New registers the drive metrics on the given registry.
func New(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		ChunkUploadDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drive_chunk_upload_duration_seconds",
			Help:    "Time spent uploading one chunk to the blob gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		ChunkDownloadDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drive_chunk_download_duration_seconds",
			Help:    "Time spent fetching one chunk from the blob gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		FileUploads: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "drive_file_uploads_total",
			Help: "Finalized and failed file uploads.",
		}, []string{"success"}),
		FileDownloads: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "drive_file_downloads_total",
			Help: "Started file downloads.",
		}, []string{"success"}),
		UploadsRejected: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "drive_uploads_rejected_total",
			Help: "Chunk uploads shed by the admission controller.",
		}),
		BytesUploaded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "drive_bytes_uploaded_total",
			Help: "Ciphertext bytes accepted into the blob gateway.",
		}),
	}
}

// Success converts a boolean outcome into the metric label value.
func Success(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
