package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
)

type UploadResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
	Skipped   int    `json:"skipped"`
	Message   string `json:"message"`
}

// uploadHandler accepts a one-column CSV of addresses, registers a job
// and queues every syntactically valid row for the worker pool.
func (a *app) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Max 10 MB upload.
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "File too large or malformed", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing 'file' parameter", http.StatusBadRequest)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	var emails []string
	skipped := 0
	isFirstRow := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "Invalid CSV format", http.StatusBadRequest)
			return
		}
		if len(record) == 0 {
			continue
		}

		val := record[0]
		if isFirstRow && (val == "email" || val == "Email" || val == "Email Address") {
			isFirstRow = false
			continue
		}
		isFirstRow = false

		if val == "" {
			continue
		}
		// Filter junk rows here so workers only ever dial for strings
		// shaped like addresses.
		if err := checkmail.ValidateFormat(val); err != nil {
			skipped++
			continue
		}
		emails = append(emails, val)
	}

	if len(emails) == 0 {
		http.Error(w, "No valid email addresses in file", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	ctx := r.Context()

	if err := a.store.CreateJob(ctx, jobID, len(emails)); err != nil {
		a.log.WithError(err).Error("failed to create job")
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	if err := a.queue.EnqueueBatch(ctx, jobID, emails); err != nil {
		a.log.WithError(err).Error("failed to enqueue job")
		http.Error(w, "Failed to queue tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{
		JobID:     jobID,
		TotalRows: len(emails),
		Skipped:   skipped,
		Message:   "Job created and queued. Processing started.",
	})
}
