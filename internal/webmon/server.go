// Package webmon serves the read-only monitoring surface: gateway stats as
// JSON and a WebSocket stream of the latest sensor state. It observes the
// same shared state the TCP protocol exposes and never mutates it.
package webmon

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/rover.gateway/internal/gateway"
	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
)

// statePushInterval paces the WebSocket state stream.
const statePushInterval = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The monitor is bound to an operator-chosen address; it serves any
	// origin that can reach it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server is the monitoring HTTP server.
type Server struct {
	sh       *gateway.SharedState
	stop     *syncutil.StopFlag
	statsSeq atomic.Uint32
}

// NewServer creates a monitoring server over the gateway state.
func NewServer(sh *gateway.SharedState, stop *syncutil.StopFlag) *Server {
	return &Server{sh: sh, stop: stop}
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws/state", s.handleStateStream)
	return mux
}

// stateDoc is the JSON shape pushed over the WebSocket.
type stateDoc struct {
	TMonoS  float64    `json:"t_mono_s"`
	Acc     [3]float32 `json:"acc"`
	Gyro    [3]float32 `json:"gyro"`
	Mag     [3]float32 `json:"mag"`
	Roll    float32    `json:"roll"`
	Pitch   float32    `json:"pitch"`
	Yaw     float32    `json:"yaw"`
	Enc     [4]int32   `json:"encoders"`
	Battery float32    `json:"battery_v"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.sh.Stats(s.statsSeq.Add(1))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"uptime_ms":       stats.UptimeMS,
		"usb_hz":          stats.USBHz,
		"tcp_hz":          stats.TCPHz,
		"ctrl_hz":         stats.CtrlHz,
		"drops_state":     stats.DropsState,
		"drops_cmd":       stats.DropsCmd,
		"drops_event":     stats.DropsEvent,
		"drops_sys_event": stats.DropsSysEvent,
		"tcp_frames_bad":  stats.TCPFramesBad,
		"serial_errors":   stats.SerialErrors,
	}); err != nil {
		monitoring.Warnf("[mon] stats encode: %v", err)
	}
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Warnf("[mon] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statePushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop.Done():
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		st, ok := s.sh.LatestState.Load()
		if !ok {
			continue
		}

		doc := stateDoc{
			TMonoS:  s.sh.NowMono(),
			Acc:     [3]float32{st.IMU.Acc.X, st.IMU.Acc.Y, st.IMU.Acc.Z},
			Gyro:    [3]float32{st.IMU.Gyro.X, st.IMU.Gyro.Y, st.IMU.Gyro.Z},
			Mag:     [3]float32{st.IMU.Mag.X, st.IMU.Mag.Y, st.IMU.Mag.Z},
			Roll:    st.Angles.Roll,
			Pitch:   st.Angles.Pitch,
			Yaw:     st.Angles.Yaw,
			Enc:     [4]int32{st.Encoders.E1, st.Encoders.E2, st.Encoders.E3, st.Encoders.E4},
			Battery: st.BatteryVoltage,
		}

		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(doc); err != nil {
			return
		}
	}
}

// ListenAndServe runs the monitor on addr until the stop flag rises.
// Failures are logged, never fatal: the monitor is an auxiliary surface.
func ListenAndServe(addr string, sh *gateway.SharedState, stop *syncutil.StopFlag) {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewServer(sh, stop).ServeMux(),
	}

	go func() {
		<-stop.Done()
		srv.Close()
	}()

	monitoring.Logf("[mon] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		monitoring.Warnf("[mon] server: %v", err)
	}
}
