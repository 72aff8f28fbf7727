package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/chaz8081/sandgarden/internal/core"
)

// stateResponse is the body of GET /api/state.
type stateResponse struct {
	SpeedMultiplier float64 `json:"speedMultiplier"`
	Pattern         int     `json:"pattern"`
	AutoMode        bool    `json:"autoMode"`
	Running         bool    `json:"running"`
	LedEffect       uint8   `json:"ledEffect"`
	LedColorR       uint8   `json:"ledColorR"`
	LedColorG       uint8   `json:"ledColorG"`
	LedColorB       uint8   `json:"ledColorB"`
	LedBrightness   uint8   `json:"ledBrightness"`
}

type (
	speedRequest struct {
		Value *float64 `json:"value" validate:"required"`
	}
	patternRequest struct {
		Value *float64 `json:"value" validate:"required"`
	}
	flagRequest struct {
		Value *flexBool `json:"value" validate:"required"`
	}
	commandRequest struct {
		Command *string `json:"command" validate:"required"`
	}
	scriptBeginRequest struct {
		Length *float64 `json:"length" validate:"required"`
		Slot   *float64 `json:"slot"`
	}
	ledEffectRequest struct {
		Value *float64 `json:"value" validate:"required,min=0,max=255"`
	}
	ledColorRequest struct {
		R *float64 `json:"r" validate:"required,min=0,max=255"`
		G *float64 `json:"g" validate:"required,min=0,max=255"`
		B *float64 `json:"b" validate:"required,min=0,max=255"`
	}
	ledBrightnessRequest struct {
		Value *float64 `json:"value" validate:"required,min=0,max=255"`
	}
)

// flexBool accepts JSON booleans and numbers (non-zero is true), as the
// web app sends 0/1 for mode and run.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case float64:
		*b = t != 0
	default:
		return errors.New("value must be a boolean or number")
	}
	return nil
}

// apiError is a 400 response with a client-facing message.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: msg}
}

// decode reads a JSON body into dst and validates it. A failed "required"
// rule reports missing; any other rule reports invalid.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, missing, invalid string) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return badRequest("Invalid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					return badRequest(missing)
				}
			}
			return badRequest(invalid)
		}
		return badRequest(invalid)
	}
	return nil
}

// apply runs cmd and writes the standard ok/error response.
func (s *Server) apply(w http.ResponseWriter, cmd core.Command) {
	if _, err := s.core.Apply(cmd); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var aerr *apiError
	if errors.As(err, &aerr) {
		status = aerr.status
	}
	var cerr *core.Error
	if errors.As(err, &cerr) {
		slog.Debug("[HTTP] command rejected", "kind", cerr.Kind, "error", cerr.Message)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("[HTTP] write response", "error", err)
	}
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	st := s.core.Snapshot()
	writeJSON(w, http.StatusOK, stateResponse{
		SpeedMultiplier: st.SpeedMultiplier,
		Pattern:         st.Pattern,
		AutoMode:        st.AutoMode,
		Running:         st.Running,
		LedEffect:       st.LedEffect,
		LedColorR:       st.LedColor.R,
		LedColorG:       st.LedColor.G,
		LedColorB:       st.LedColor.B,
		LedBrightness:   st.LedBrightness,
	})
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid speed value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetSpeed{Value: *req.Value})
}

func (s *Server) handleSetPattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid pattern value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetPattern{Value: int(*req.Value)})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid mode value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetAutoMode{Value: bool(*req.Value)})
}

func (s *Server) handleSetRun(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid run value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetRunState{Value: bool(*req.Value)})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := s.decode(w, r, &req, "Missing command field", "Invalid command"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.GenericCommand{Raw: *req.Command})
}

func (s *Server) handleLedEffect(w http.ResponseWriter, r *http.Request) {
	var req ledEffectRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid effect value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetLedEffect{Value: uint8(*req.Value)})
}

func (s *Server) handleLedColor(w http.ResponseWriter, r *http.Request) {
	var req ledColorRequest
	if err := s.decode(w, r, &req, "Missing r, g, or b field", "Invalid color value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetLedColor{Color: core.RGB{R: uint8(*req.R), G: uint8(*req.G), B: uint8(*req.B)}})
}

func (s *Server) handleLedBrightness(w http.ResponseWriter, r *http.Request) {
	var req ledBrightnessRequest
	if err := s.decode(w, r, &req, "Missing value field", "Invalid brightness value"); err != nil {
		s.fail(w, err)
		return
	}
	s.apply(w, core.SetLedBrightness{Value: uint8(*req.Value)})
}

func (s *Server) handleScriptBegin(w http.ResponseWriter, r *http.Request) {
	var req scriptBeginRequest
	if err := s.decode(w, r, &req, "Missing length field", "Invalid length field"); err != nil {
		s.fail(w, err)
		return
	}
	slot := core.NoSlot
	if req.Slot != nil {
		slot = int(*req.Slot)
	}
	s.apply(w, core.ScriptBegin{Length: int(*req.Length), Slot: slot})
}

// handleScriptChunk appends the raw request body to the open upload.
func (s *Server) handleScriptChunk(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.core.MaxScriptLength())
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.fail(w, badRequest("Invalid body"))
		return
	}
	s.apply(w, core.ScriptChunk{Data: data})
}

func (s *Server) handleScriptEnd(w http.ResponseWriter, _ *http.Request) {
	s.apply(w, core.ScriptEnd{})
}

func (s *Server) handleScriptReset(w http.ResponseWriter, _ *http.Request) {
	s.apply(w, core.ScriptReset{Reason: core.ReasonAbort})
}
