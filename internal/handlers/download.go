package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/runner"
)

type downloadRequest struct {
	URL          string `json:"url"`
	Mode         string `json:"mode"`
	Resolution   int    `json:"resolution"`
	AudioFormat  string `json:"audio_format"`
	AudioBitrate int    `json:"audio_bitrate"`
}

// createDownload admits, records and starts a remote-URL job. Admission is
// checked before any record exists: a refused request leaves no trace.
func (a *App) createDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if _, err := url.ParseRequestURI(req.URL); err != nil || req.URL == "" {
		a.respondError(w, http.StatusBadRequest, "a valid source url is required")
		return
	}
	mode := models.ModeVideo
	if strings.EqualFold(req.Mode, string(models.ModeAudio)) {
		mode = models.ModeAudio
	}

	if !a.svc.Gate.TryAdmit() {
		a.logger.Warn("download refused, at capacity", "url", req.URL, "max", a.svc.Gate.Max())
		a.respondError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("download capacity of %d reached, try again later", a.svc.Gate.Max()))
		return
	}

	jobID := newID()
	now := time.Now()
	a.svc.Downloads.Create(jobID, models.DownloadJob{
		ID:           jobID,
		SourceURL:    req.URL,
		Platform:     runner.DetectPlatform(req.URL),
		Mode:         mode,
		Resolution:   req.Resolution,
		AudioFormat:  req.AudioFormat,
		AudioBitrate: req.AudioBitrate,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	a.logger.Info("download job created", "job_id", jobID, "url", req.URL, "mode", mode)
	go a.runDownload(jobID)
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": jobID})
}

func (a *App) runDownload(jobID string) {
	defer a.svc.Gate.Release()

	job, ok := a.svc.Downloads.Get(jobID)
	if !ok {
		return
	}
	if err := os.MkdirAll(a.outputsDir, 0o755); err != nil {
		a.failDownload(jobID, err)
		return
	}

	a.svc.Downloads.Update(jobID, func(j *models.DownloadJob) {
		j.Status = models.StatusDownloading
		j.UpdatedAt = time.Now()
	})

	outputPath, err := a.svc.YtDlp.Download(context.Background(), runner.DownloadSpec{
		JobID:        jobID,
		SourceURL:    job.SourceURL,
		Mode:         job.Mode,
		Resolution:   job.Resolution,
		AudioFormat:  job.AudioFormat,
		AudioBitrate: job.AudioBitrate,
		OutputDir:    a.outputsDir,
	}, a.downloadProgress(jobID))
	if err != nil {
		a.failDownload(jobID, err)
		return
	}
	a.completeDownload(jobID, outputPath)
}

// downloadProgress maps phase-tagged percentages onto the composite scale:
// the download phase covers 0-50, the convert phase 50-100. The composite
// never moves backwards, including across the phase switch.
func (a *App) downloadProgress(jobID string) runner.DownloadProgressFunc {
	return func(phase runner.Phase, percent int, message string) {
		job, ok := a.svc.Downloads.Update(jobID, func(j *models.DownloadJob) {
			switch phase {
			case runner.PhaseDownload:
				if percent > j.DownloadProgress {
					j.DownloadProgress = percent
				}
				if composite := percent / 2; composite > j.Progress {
					j.Progress = composite
				}
			case runner.PhaseConvert:
				j.Status = models.StatusConverting
				if percent > j.ConvertProgress {
					j.ConvertProgress = percent
				}
				if composite := 50 + percent/2; composite > j.Progress {
					j.Progress = composite
				}
			}
			j.UpdatedAt = time.Now()
		})
		if !ok {
			return
		}
		a.svc.Hub.Broadcast(models.ProgressEvent{
			Type:             models.EventProgress,
			JobID:            jobID,
			Kind:             "download",
			Stage:            string(phase),
			Status:           job.Status,
			Progress:         job.Progress,
			DownloadProgress: job.DownloadProgress,
			ConvertProgress:  job.ConvertProgress,
			Message:          message,
		})
	}
}

func (a *App) completeDownload(jobID, outputPath string) {
	job, ok := a.svc.Downloads.Update(jobID, func(j *models.DownloadJob) {
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.DownloadProgress = 100
		j.ConvertProgress = 100
		j.OutputPath = outputPath
		j.OutputName = filepath.Base(outputPath)
		j.Error = ""
		j.ErrorKind = ""
		j.UpdatedAt = time.Now()
		j.CompletedAt = time.Now()
	})
	if !ok {
		return
	}

	a.svc.Tracker.Track(jobID, job.OutputPath, true)
	a.svc.Hub.Broadcast(models.ProgressEvent{
		Type:             models.EventCompleted,
		JobID:            jobID,
		Kind:             "download",
		Status:           job.Status,
		Progress:         job.Progress,
		DownloadProgress: job.DownloadProgress,
		ConvertProgress:  job.ConvertProgress,
		Message:          "download finished",
		DownloadURL:      "/download/" + jobID,
	})
	a.logger.Info("download completed", "job_id", jobID, "output", job.OutputPath)
}

func (a *App) failDownload(jobID string, err error) {
	msg, kind := describeFailure(err)
	a.logger.Error("download failed", "job_id", jobID, "kind", kind, "error", err)

	job, ok := a.svc.Downloads.Update(jobID, func(j *models.DownloadJob) {
		j.Status = models.StatusError
		j.Error = msg
		j.ErrorKind = kind
		j.UpdatedAt = time.Now()
		j.CompletedAt = time.Now()
	})
	if !ok {
		return
	}
	a.svc.Hub.Broadcast(models.ProgressEvent{
		Type:     models.EventError,
		JobID:    jobID,
		Kind:     "download",
		Status:   models.StatusError,
		Progress: job.Progress,
		Error:    msg,
	})
}
