package v1

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/config"
	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/notify"
	"github.com/afya-pulse/triage-api/internal/service"
	"github.com/afya-pulse/triage-api/pkg/metrics"
)

// ussdContent holds the per-language menu strings. CON keeps the telco
// session open, END closes it.
type ussdContent struct {
	welcome   string
	location  string
	age       string
	gender    string
	symptoms  string
	emergency string
	endRed    string
	endYellow string
	smsRed    string
	smsYellow string
}

var ussdLangs = map[string]ussdContent{
	"en": {
		welcome:   "CON Welcome to Afya-Pulse\n1. Report Symptoms\n2. Emergency",
		location:  "CON Enter your County (e.g. Nairobi):",
		age:       "CON Enter your Age (e.g. 30):",
		gender:    "CON Select Gender:\n1. Male\n2. Female",
		symptoms:  "CON Describe your symptoms (e.g. Fever, Headache):",
		emergency: "END Emergency Services:\nAmbulance: 999\nPolice: 911",
		endRed:    "END CRITICAL: Go to the nearest hospital immediately. Check your SMS.",
		endYellow: "END ADVICE: Please visit a clinic soon. Check your SMS.",
		smsRed:    "CRITICAL (Afya-Pulse): Your symptoms indicate a serious condition. Visit a hospital immediately. ID:",
		smsYellow: "ADVICE (Afya-Pulse): Please see a doctor for evaluation. ID:",
	},
	"sw": {
		welcome:   "CON Karibu Afya-Pulse\n1. Ripoti Dalili\n2. Dharura",
		location:  "CON Weka Kaunti yako (mfano: Nairobi):",
		age:       "CON Weka Umri wako (mfano: 30):",
		gender:    "CON Chagua Jinsia:\n1. Mwanaume\n2. Mwanamke",
		symptoms:  "CON Elezea dalili zako (mfano: Homa, Kichwa):",
		emergency: "END Huduma za Dharura:\nAmbulance: 999\nPolisi: 911",
		endRed:    "END HATARI: Nenda hospitali mara moja. Tumekutumia SMS.",
		endYellow: "END USHAURI: Tafadhali nenda kliniki. Tumekutumia SMS.",
		smsRed:    "HATARI (Afya-Pulse): Dalili zako ni mbaya. Nenda hospitali mara moja. ID:",
		smsYellow: "USHAURI (Afya-Pulse): Tafadhali muone daktari kwa uchunguzi zaidi. ID:",
	},
}

type USSDHandler struct {
	triage  *service.TriageService
	sms     notify.Sender
	cfg     config.ClassifierConfig
	metrics *metrics.Collector
	log     *zap.Logger
}

func NewUSSDHandler(
	triage *service.TriageService,
	sms notify.Sender,
	cfg config.ClassifierConfig,
	collector *metrics.Collector,
	log *zap.Logger,
) *USSDHandler {
	return &USSDHandler{triage: triage, sms: sms, cfg: cfg, metrics: collector, log: log}
}

// Handle processes one Africa's Talking callback. The gateway posts the
// whole session input on every turn as a *-joined string, so each
// request replays the walk so far; the input count is the state.
func (h *USSDHandler) Handle(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	phone := c.PostForm("phoneNumber")
	text := c.PostForm("text")

	inputs := splitUSSDText(text)

	if len(inputs) == 0 {
		h.respond(c, "CON Chagua Lugha / Select Language:\n1. English\n2. Kiswahili")
		return
	}

	langCode := "en"
	if inputs[0] == "2" {
		langCode = "sw"
	}
	lang := ussdLangs[langCode]

	switch len(inputs) {
	case 1:
		h.respond(c, lang.welcome)
	case 2:
		if inputs[1] == "2" {
			h.metrics.USSDSessionsTotal.WithLabelValues("emergency").Inc()
			h.respond(c, lang.emergency)
			return
		}
		h.respond(c, lang.location)
	case 3:
		h.respond(c, lang.age)
	case 4:
		h.respond(c, lang.gender)
	case 5:
		h.respond(c, lang.symptoms)
	case 6:
		h.complete(c, sessionID, phone, langCode, lang, inputs)
	default:
		h.metrics.USSDSessionsTotal.WithLabelValues("invalid").Inc()
		h.respond(c, "END Invalid input.")
	}
}

// complete runs the final menu step through the triage pipeline with the
// tight USSD classifier timeout, then texts the advice back.
func (h *USSDHandler) complete(c *gin.Context, sessionID, phone, langCode string, lang ussdContent, inputs []string) {
	location, age, genderSelect, symptoms := inputs[2], inputs[3], inputs[4], inputs[5]

	gender := "Female"
	if genderSelect == "1" {
		gender = "Male"
	}

	cmd := &report.SubmitCommand{
		Symptoms:     symptoms,
		Location:     location,
		Age:          age,
		Gender:       gender,
		Phone:        phone,
		SourcePrefix: fmt.Sprintf("[USSD-%s] ", strings.ToUpper(langCode)),
	}

	result, err := h.triage.Submit(c.Request.Context(), cmd, h.cfg.USSDTimeout)
	if err != nil {
		h.log.Error("ussd submission failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		h.metrics.USSDSessionsTotal.WithLabelValues("error").Inc()
		h.respond(c, "END System busy. Please try again.")
		return
	}

	recordSubmit(h.metrics, result)
	h.metrics.USSDSessionsTotal.WithLabelValues("completed").Inc()

	smsText := lang.smsYellow
	endText := lang.endYellow
	if result.Report.TriageCategory == report.CategoryRed {
		smsText = lang.smsRed
		endText = lang.endRed
	}

	// Fire-and-forget: a lost SMS must not cost the session its END
	// response before the telco timeout.
	go func(message string) {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
		defer cancel()
		if err := h.sms.Send(ctx, phone, message); err != nil {
			h.log.Warn("sms delivery failed", zap.Error(err))
		}
	}(fmt.Sprintf("%s #%s", smsText, result.Report.ID))

	h.respond(c, endText)
}

func (h *USSDHandler) respond(c *gin.Context, body string) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

// splitUSSDText breaks the *-joined session input, dropping empties so a
// stray separator cannot jump the menu state.
func splitUSSDText(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "*")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
