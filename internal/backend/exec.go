package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execBackend runs the inference bridge as a subprocess per call, speaking
// JSON over stdin/stdout. The mutex serializes calls: the bridge holds
// exclusive model/device state.
type execBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Op          string `json:"op"` // encode, generate
	Text        string `json:"text,omitempty"`
	RefText     string `json:"ref_text,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	PCMBase64   string `json:"pcm_base64,omitempty"`
	CodesBase64 string `json:"codes_base64,omitempty"`
}

type execResponse struct {
	CodesBase64 string `json:"codes_base64,omitempty"`
	PCMBase64   string `json:"pcm_base64,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Error       string `json:"error,omitempty"`
}

func NewExecBackend(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse backend command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("backend command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (e *execBackend) EncodeReference(ctx context.Context, samples []float64, sampleRate int, refText string) ([]byte, error) {
	resp, err := e.roundTrip(ctx, execRequest{
		Op:         "encode",
		RefText:    refText,
		SampleRate: sampleRate,
		PCMBase64:  base64.StdEncoding.EncodeToString(floatsToPCM(samples)),
	})
	if err != nil {
		return nil, err
	}
	codes, err := base64.StdEncoding.DecodeString(resp.CodesBase64)
	if err != nil {
		return nil, fmt.Errorf("decode reference codes: %w", err)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("backend returned empty reference codes")
	}
	return codes, nil
}

func (e *execBackend) Generate(ctx context.Context, text string, refCodes []byte) ([]float64, int, error) {
	resp, err := e.roundTrip(ctx, execRequest{
		Op:          "generate",
		Text:        text,
		CodesBase64: base64.StdEncoding.EncodeToString(refCodes),
	})
	if err != nil {
		return nil, 0, err
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, 0, fmt.Errorf("decode pcm payload: %w", err)
	}
	samples, err := pcmToFloats(pcm)
	if err != nil {
		return nil, 0, err
	}
	if resp.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("backend returned invalid sample rate %d", resp.SampleRate)
	}
	return samples, resp.SampleRate, nil
}

func (e *execBackend) roundTrip(ctx context.Context, req execRequest) (execResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return execResponse{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return execResponse{}, fmt.Errorf("backend command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode backend response: %w", err)
	}
	if resp.Error != "" {
		return execResponse{}, fmt.Errorf("backend error: %s", resp.Error)
	}
	return resp, nil
}

// floatsToPCM converts normalized samples to 16-bit little-endian PCM.
func floatsToPCM(samples []float64) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(math.Round(s * 32767.0))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func pcmToFloats(pcm []byte) ([]float64, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}
