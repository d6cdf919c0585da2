package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/task"
)

const (
	errTypeValidation = "VALIDATION_ERROR"
	errTypeNotFound   = "NOT_FOUND_ERROR"
	errTypeProcessing = "PROCESSING_ERROR"
	errTypeSystem     = "SYSTEM_ERROR"
)

// degradedPendingThreshold and degradedHeapBytes drive the system-health
// verdict.
const (
	degradedPendingThreshold = 1000
	degradedHeapBytes        = 1 << 30
)

type apiError struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// response is the uniform envelope; code mirrors the HTTP status.
type response struct {
	Code  int       `json:"code"`
	Msg   string    `json:"msg"`
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Code: status, Msg: http.StatusText(status), Data: data})
}

func writeErr(w http.ResponseWriter, status int, errType, msg string, details []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{
		Code:  status,
		Msg:   http.StatusText(status),
		Error: &apiError{Type: errType, Message: msg, Details: details},
	})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Width and Height are pointers so an explicit "width":0 is distinguishable
// from an absent field: omitempty skips only the nil pointer, a present zero
// still hits the gte=1 bound.
type generateRequest struct {
	Type     string         `json:"type" validate:"omitempty,oneof=png jpeg jpg svg pdf"`
	Width    *int           `json:"width" validate:"omitempty,gte=1,lte=4000"`
	Height   *int           `json:"height" validate:"omitempty,gte=1,lte=4000"`
	Option   map[string]any `json:"option" validate:"required"`
	Base64   bool           `json:"base64"`
	Download bool           `json:"download"`
	OSSPath  string         `json:"ossPath"`
}

type generateResponse struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	StatusURL string    `json:"statusUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, errTypeValidation, "invalid request body", []string{err.Error()})
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, violationMessage(fe))
			}
			writeErr(w, http.StatusBadRequest, errTypeValidation, "invalid task config: "+strings.Join(details, "; "), details)
			return
		}
		writeErr(w, http.StatusBadRequest, errTypeValidation, "invalid task config", nil)
		return
	}

	chartType := req.Type
	if chartType == "jpg" {
		chartType = "jpeg"
	}

	t, err := s.manager.CreateTask(task.ChartConfig{
		Type:     chartType,
		Width:    intOrZero(req.Width),
		Height:   intOrZero(req.Height),
		Option:   req.Option,
		Base64:   req.Base64,
		Download: req.Download,
		OSSPath:  req.OSSPath,
	})
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			writeErr(w, http.StatusBadRequest, errTypeValidation, verr.Error(), verr.Violations)
			return
		}
		s.logger.Error("create task failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, errTypeSystem, "failed to create task", nil)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		TaskID:    t.ID,
		Status:    string(t.State),
		StatusURL: "/api/charts/status/" + t.ID,
		CreatedAt: t.CreatedAt,
	})
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "type":
		return "type must be one of png, jpeg, jpg, svg, pdf"
	case "width", "height":
		return fmt.Sprintf("%s must be between 1 and 4000", fe.Field())
	case "option":
		return "option is required"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

type statusResponse struct {
	TaskID      string     `json:"taskId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	FileName    string     `json:"fileName,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	t, err := s.manager.GetTask(id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeErr(w, http.StatusNotFound, errTypeNotFound, "task not found", nil)
			return
		}
		writeErr(w, http.StatusInternalServerError, errTypeSystem, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		TaskID:      t.ID,
		Status:      string(t.State),
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		ImageURL:    t.ImageURL,
		FileName:    t.FileName,
		Error:       t.Error,
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.QueueStatus())
}

type healthResponse struct {
	Status       string `json:"status"`
	PendingTasks int    `json:"pendingTasks"`
	HeapBytes    uint64 `json:"heapBytes"`
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	st := s.manager.QueueStatus()
	heap := s.metrics.HeapInUse()

	if st.PendingCount > degradedPendingThreshold || heap > degradedHeapBytes {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:       "degraded",
			PendingTasks: st.PendingCount,
			HeapBytes:    heap,
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		PendingTasks: st.PendingCount,
		HeapBytes:    heap,
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleCleanupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

type manualCleanupResponse struct {
	CleanedTasks int                 `json:"cleanedTasks"`
	DeletedFiles int                 `json:"deletedFiles"`
	Errors       []task.CleanupError `json:"errors"`
	Timestamp    time.Time           `json:"timestamp"`
}

func (s *Server) handleManualCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.scheduler.TriggerManual()
	if err != nil {
		s.logger.Error("manual cleanup failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, errTypeSystem, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, manualCleanupResponse{
		CleanedTasks: res.CleanedTasks,
		DeletedFiles: res.DeletedFiles,
		Errors:       res.Errors,
		Timestamp:    time.Now(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
