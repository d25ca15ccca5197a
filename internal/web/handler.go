package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/docker"
	"github.com/YooLeon/portainer-monitor/internal/entity"
	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// Monitor 是 HTTP 层使用的协调器接口
type Monitor interface {
	Containers() ([]docker.Container, error)
	Container(id string) (docker.Container, bool)
	Refresh(ctx context.Context) error
	Status() docker.Status
	EndpointID() int
	Interval() time.Duration
}

// Toggle 是容器运行开关
type Toggle interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	State() entity.State
}

// SwitchLookup 按容器 ID 查找开关
type SwitchLookup func(containerID string) (Toggle, bool)

type Handler struct {
	monitor  Monitor
	switches SwitchLookup
	hub      *Hub
	logger   *zap.Logger
	started  time.Time
}

func NewHandler(monitor Monitor, switches SwitchLookup, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		monitor:  monitor,
		switches: switches,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes 注册 API 路由
func (h *Handler) Routes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	router.HandleFunc("/containers", h.ContainersHandler).Methods(http.MethodGet)
	router.HandleFunc("/containers/{id}", h.ContainerHandler).Methods(http.MethodGet)
	router.HandleFunc("/containers/{id}/{action:start|stop}", h.ContainerActionHandler).Methods(http.MethodPost)
	router.HandleFunc("/refresh", h.RefreshHandler).Methods(http.MethodPost)
	router.HandleFunc("/entities", h.EntitiesHandler).Methods(http.MethodGet)
	router.HandleFunc("/entities/{id}", h.EntityHandler).Methods(http.MethodGet)
	router.Handle("/ws", h.hub)
}

type containerView struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Names   []string `json:"names"`
	State   string   `json:"state"`
	Running bool     `json:"running"`
	Created int64    `json:"created"`
	Image   string   `json:"image"`
}

func newContainerView(c docker.Container) containerView {
	return containerView{
		ID:      c.ID,
		Name:    c.DisplayName(),
		Names:   c.Names,
		State:   c.State.String(),
		Running: c.State.IsRunning(),
		Created: c.Created,
		Image:   c.Image,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := h.monitor.Status()

	code := http.StatusOK
	health := "healthy"
	if !status.HasData {
		code = http.StatusServiceUnavailable
		health = "unavailable"
	} else if status.LastError != "" {
		health = "degraded"
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":      health,
		"endpoint_id": h.monitor.EndpointID(),
		"interval":    h.monitor.Interval().String(),
		"monitor":     status,
		"clients":     h.hub.Clients(),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) ContainersHandler(w http.ResponseWriter, r *http.Request) {
	containers, err := h.monitor.Containers()
	if err != nil {
		h.logger.Error("Error listing containers", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "Failed to list containers")
		return
	}

	views := make([]containerView, 0, len(containers))
	for _, c := range containers {
		views = append(views, newContainerView(c))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) ContainerHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, found := h.monitor.Container(id)
	if !found {
		h.writeError(w, http.StatusNotFound, "Container not found")
		return
	}
	h.writeJSON(w, http.StatusOK, newContainerView(c))
}

func (h *Handler) ContainerActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	sw, found := h.switches(id)
	if !found {
		h.writeError(w, http.StatusNotFound, "Container not found")
		return
	}

	var err error
	if action == "start" {
		err = sw.TurnOn(r.Context())
	} else {
		err = sw.TurnOff(r.Context())
	}
	if err != nil {
		h.logger.Error("Container action failed", zap.String("container", id), zap.String("action", action), zap.Error(err))
		h.writeError(w, remoteStatus(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, sw.State())
}

func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Refresh(r.Context()); err != nil {
		h.writeError(w, remoteStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *Handler) EntitiesHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.hub.States())
}

func (h *Handler) EntityHandler(w http.ResponseWriter, r *http.Request) {
	state, found := h.hub.State(mux.Vars(r)["id"])
	if !found {
		h.writeError(w, http.StatusNotFound, "Entity not found")
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func remoteStatus(err error) int {
	switch {
	case errors.Is(err, portainer.ErrInvalidAuth):
		return http.StatusUnauthorized
	case portainer.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Error encoding response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
