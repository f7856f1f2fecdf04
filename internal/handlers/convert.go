package handlers

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/runner"
)

// createConversion accepts a local media upload and starts a transcode job.
func (a *App) createConversion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.logger.Warn("invalid multipart upload", "error", err)
		a.respondError(w, http.StatusBadRequest, "invalid or oversized upload")
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "media file is required")
		return
	}
	defer file.Close()

	jobID := newID()
	safeName, inputPath, err := a.saveUpload(jobID, file, header)
	if err != nil {
		a.logger.Error("failed to persist upload", "error", err)
		a.respondError(w, http.StatusInternalServerError, "could not save upload")
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if format == "" {
		format = "mp3"
	}
	kind := models.KindAudio
	switch format {
	case "mp4", "webm", "mkv":
		kind = models.KindVideo
	}

	bitrate, _ := strconv.Atoi(r.FormValue("bitrate"))
	trimStart, _ := strconv.ParseFloat(r.FormValue("trim_start"), 64)
	trimEnd, _ := strconv.ParseFloat(r.FormValue("trim_end"), 64)

	now := time.Now()
	job := models.ConversionJob{
		ID:            jobID,
		Kind:          kind,
		InputFileName: safeName,
		InputPath:     inputPath,
		Format:        format,
		Bitrate:       bitrate,
		TrimStart:     trimStart,
		TrimEnd:       trimEnd,
		Metadata: models.TrackMetadata{
			Title:  strings.TrimSpace(r.FormValue("title")),
			Artist: strings.TrimSpace(r.FormValue("artist")),
			Album:  strings.TrimSpace(r.FormValue("album")),
		},
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.svc.Conversions.Create(jobID, job)

	a.logger.Info("conversion job created", "job_id", jobID, "file", safeName, "format", format)
	go a.runConversion(jobID)
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": jobID})
}

func (a *App) runConversion(jobID string) {
	job, ok := a.svc.Conversions.Get(jobID)
	if !ok {
		return
	}

	outputName := runner.OutputName(jobID, job.Format)
	outputPath := filepath.Join(a.outputsDir, outputName)
	if err := os.MkdirAll(a.outputsDir, 0o755); err != nil {
		a.failConversion(jobID, err)
		return
	}

	a.setConversionActive(jobID)

	err := a.svc.FFmpeg.Transcode(context.Background(), runner.TranscodeSpec{
		InputPath:  job.InputPath,
		OutputPath: outputPath,
		Format:     job.Format,
		Bitrate:    job.Bitrate,
		TrimStart:  job.TrimStart,
		TrimEnd:    job.TrimEnd,
		Metadata:   job.Metadata,
		AudioOnly:  job.Kind == models.KindAudio,
	}, a.conversionProgress(jobID))
	if err != nil {
		a.failConversion(jobID, err)
		return
	}
	a.completeConversion(jobID, outputName, outputPath)
}

// conversionProgress builds the callback that forwards clamped, monotonic
// progress into the registry and out to the hub.
func (a *App) conversionProgress(jobID string) runner.ProgressFunc {
	return func(percent int, message string) {
		job, ok := a.svc.Conversions.Update(jobID, func(j *models.ConversionJob) {
			if percent > j.Progress {
				j.Progress = percent
			}
			j.UpdatedAt = time.Now()
		})
		if !ok {
			return
		}
		a.svc.Hub.Broadcast(models.ProgressEvent{
			Type:     models.EventProgress,
			JobID:    jobID,
			Kind:     string(job.Kind),
			Status:   job.Status,
			Progress: job.Progress,
			Message:  message,
		})
	}
}

func (a *App) setConversionActive(jobID string) {
	a.svc.Conversions.Update(jobID, func(j *models.ConversionJob) {
		j.Status = models.StatusProcessing
		j.UpdatedAt = time.Now()
	})
}

// completeConversion is the only writer of the output reference: a record
// carries one exactly when it is completed.
func (a *App) completeConversion(jobID, outputName, outputPath string) {
	job, ok := a.svc.Conversions.Update(jobID, func(j *models.ConversionJob) {
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.OutputName = outputName
		j.OutputPath = outputPath
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
		Type:        models.EventCompleted,
		JobID:       jobID,
		Kind:        string(job.Kind),
		Status:      models.StatusCompleted,
		Progress:    100,
		Message:     "conversion finished",
		DownloadURL: "/download/" + jobID,
	})
	a.logger.Info("conversion completed", "job_id", jobID, "output", job.OutputPath)
}

func (a *App) failConversion(jobID string, err error) {
	msg, kind := describeFailure(err)
	a.logger.Error("conversion failed", "job_id", jobID, "kind", kind, "error", err)

	job, ok := a.svc.Conversions.Update(jobID, func(j *models.ConversionJob) {
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
		Kind:     string(job.Kind),
		Status:   models.StatusError,
		Progress: job.Progress,
		Error:    msg,
	})
}

// describeFailure maps an operation error to the user-facing message and its
// classification tag.
func describeFailure(err error) (msg, kind string) {
	var toolErr *runner.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Message(), string(toolErr.Kind)
	}
	return err.Error(), string(runner.FailureGeneric)
}

// --- image operations ---

func (a *App) createImageResize(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.FormValue("width"))
	height, _ := strconv.Atoi(r.FormValue("height"))
	a.createImageJob(w, r, "resize", func(ctx context.Context, in, out string, cb func(int, string)) error {
		return a.svc.Images.Resize(in, out, width, height, cb)
	})
}

func (a *App) createImageConvert(w http.ResponseWriter, r *http.Request) {
	a.createImageJob(w, r, "convert", func(ctx context.Context, in, out string, cb func(int, string)) error {
		return a.svc.Images.Convert(in, out, cb)
	})
}

func (a *App) createImageRemoveBG(w http.ResponseWriter, r *http.Request) {
	a.createImageJob(w, r, "remove-background", func(ctx context.Context, in, out string, cb func(int, string)) error {
		return a.svc.Images.RemoveBackground(ctx, in, out, cb)
	})
}

type imageOp func(ctx context.Context, inputPath, outputPath string, cb func(int, string)) error

func (a *App) createImageJob(w http.ResponseWriter, r *http.Request, stage string, op imageOp) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid or oversized upload")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	jobID := newID()
	safeName, inputPath, err := a.saveUpload(jobID, file, header)
	if err != nil {
		a.logger.Error("failed to persist upload", "error", err)
		a.respondError(w, http.StatusInternalServerError, "could not save upload")
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if format == "" {
		ext := strings.TrimPrefix(filepath.Ext(safeName), ".")
		if stage == "remove-background" {
			ext = "png"
		}
		format = ext
	}
	if format == "" {
		format = "png"
	}

	now := time.Now()
	a.svc.Conversions.Create(jobID, models.ConversionJob{
		ID:            jobID,
		Kind:          models.KindImage,
		InputFileName: safeName,
		InputPath:     inputPath,
		Format:        format,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	outputName := runner.OutputName(jobID, format)
	outputPath := filepath.Join(a.outputsDir, outputName)

	a.logger.Info("image job created", "job_id", jobID, "op", stage, "file", safeName)
	go a.runAtomicJob(jobID, outputName, outputPath, func(ctx context.Context, cb func(int, string)) error {
		return op(ctx, inputPath, outputPath, cb)
	})
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": jobID})
}

// runAtomicJob drives a short in-process operation through the same job
// lifecycle as a long external one.
func (a *App) runAtomicJob(jobID, outputName, outputPath string, op func(ctx context.Context, cb func(int, string)) error) {
	if err := os.MkdirAll(a.outputsDir, 0o755); err != nil {
		a.failConversion(jobID, err)
		return
	}
	a.setConversionActive(jobID)

	cb := a.conversionProgress(jobID)
	if err := op(context.Background(), func(p int, msg string) { cb(p, msg) }); err != nil {
		a.failConversion(jobID, err)
		return
	}
	a.completeConversion(jobID, outputName, outputPath)
}

// --- PDF operations ---

func (a *App) createPDFMerge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid or oversized upload")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["documents"]) < 2 {
		a.respondError(w, http.StatusBadRequest, "at least two PDF documents are required")
		return
	}

	jobID := newID()
	var inputPaths []string
	var firstName string
	for i, header := range r.MultipartForm.File["documents"] {
		file, err := header.Open()
		if err != nil {
			a.respondError(w, http.StatusBadRequest, "could not read uploaded document")
			return
		}
		name, path, err := a.saveUpload(jobID+"_"+strconv.Itoa(i), file, header)
		file.Close()
		if err != nil {
			a.logger.Error("failed to persist upload", "error", err)
			a.respondError(w, http.StatusInternalServerError, "could not save upload")
			return
		}
		if i == 0 {
			firstName = name
		}
		inputPaths = append(inputPaths, path)
	}

	now := time.Now()
	a.svc.Conversions.Create(jobID, models.ConversionJob{
		ID:            jobID,
		Kind:          models.KindPDF,
		InputFileName: firstName,
		InputPath:     inputPaths[0],
		Format:        "pdf",
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	outputName := runner.OutputName(jobID, "pdf")
	outputPath := filepath.Join(a.outputsDir, outputName)

	a.logger.Info("pdf merge job created", "job_id", jobID, "documents", len(inputPaths))
	go a.runAtomicJob(jobID, outputName, outputPath, func(ctx context.Context, cb func(int, string)) error {
		return a.svc.PDFs.Merge(inputPaths, outputPath, cb)
	})
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": jobID})
}

func (a *App) createPDFSplit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid or oversized upload")
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "PDF document is required")
		return
	}
	defer file.Close()

	span, _ := strconv.Atoi(r.FormValue("span"))
	if span <= 0 {
		span = 1
	}

	jobID := newID()
	safeName, inputPath, err := a.saveUpload(jobID, file, header)
	if err != nil {
		a.logger.Error("failed to persist upload", "error", err)
		a.respondError(w, http.StatusInternalServerError, "could not save upload")
		return
	}

	now := time.Now()
	a.svc.Conversions.Create(jobID, models.ConversionJob{
		ID:            jobID,
		Kind:          models.KindPDF,
		InputFileName: safeName,
		InputPath:     inputPath,
		Format:        "zip",
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	outputName := runner.OutputName(jobID, "zip")
	outputPath := filepath.Join(a.outputsDir, outputName)
	splitDir := filepath.Join(a.outputsDir, jobID+"_pages")

	a.logger.Info("pdf split job created", "job_id", jobID, "span", span)
	go a.runAtomicJob(jobID, outputName, outputPath, func(ctx context.Context, cb func(int, string)) error {
		defer os.RemoveAll(splitDir)
		if err := a.svc.PDFs.Split(inputPath, splitDir, span, cb); err != nil {
			return err
		}
		return zipDir(splitDir, outputPath)
	})
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job_id": jobID})
}

// zipDir bundles the split pages into one collectable artifact.
func zipDir(dir, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		dst, err := zw.Create(entry.Name())
		if err != nil {
			src.Close()
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}
	return zw.Close()
}
