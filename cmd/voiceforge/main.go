package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var version = "0.1.0-dev"

const usage = "expected 'clone', 'voices', 'delete', 'say', or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	client := &apiClient{http: &http.Client{Timeout: 2 * time.Minute}}

	var err error
	switch os.Args[1] {
	case "clone":
		err = runClone(client, os.Args[2:])
	case "voices":
		err = runVoices(client, os.Args[2:])
	case "delete":
		err = runDelete(client, os.Args[2:])
	case "say":
		err = runSay(client, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addServerFlag(fs *flag.FlagSet, client *apiClient) {
	fs.StringVar(&client.base, "server", "http://localhost:8080", "VoiceForge server address")
}

func runClone(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("clone", flag.ExitOnError)
	addServerFlag(fs, client)
	name := fs.String("name", "", "Name for the new voice")
	wavPath := fs.String("ref-audio", "", "Path to reference WAV file")
	refText := fs.String("ref-text", "", "Transcript of the reference audio")
	fs.Parse(args)

	if *name == "" || *wavPath == "" || *refText == "" {
		return fmt.Errorf("clone requires -name, -ref-audio, and -ref-text")
	}

	raw, err := os.ReadFile(*wavPath)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"name":         *name,
		"ref_text":     *refText,
		"audio_base64": base64.StdEncoding.EncodeToString(raw),
	}
	var resp struct {
		Name       string `json:"name"`
		SampleRate int    `json:"sample_rate"`
	}
	if err := client.do(http.MethodPost, "/v1/voices", payload, &resp); err != nil {
		return err
	}
	fmt.Printf("cloned voice %q (%d Hz reference)\n", resp.Name, resp.SampleRate)
	return nil
}

func runVoices(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	addServerFlag(fs, client)
	fs.Parse(args)

	var resp struct {
		Voices []string `json:"voices"`
	}
	if err := client.do(http.MethodGet, "/v1/voices", nil, &resp); err != nil {
		return err
	}
	if len(resp.Voices) == 0 {
		fmt.Println("no voices")
		return nil
	}
	for _, name := range resp.Voices {
		fmt.Println(name)
	}
	return nil
}

func runDelete(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	addServerFlag(fs, client)
	name := fs.String("name", "", "Voice to delete")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("delete requires -name")
	}
	if err := client.do(http.MethodDelete, "/v1/voices/"+*name, nil, nil); err != nil {
		return err
	}
	fmt.Printf("deleted voice %q\n", *name)
	return nil
}

func runSay(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	addServerFlag(fs, client)
	voice := fs.String("voice", "", "Voice to speak with")
	text := fs.String("text", "", "Text to synthesize")
	speed := fs.Float64("speed", 0, "Speed factor (0 uses the server default)")
	out := fs.String("out", "out.wav", "Output WAV path")
	fs.Parse(args)

	if *voice == "" || *text == "" {
		return fmt.Errorf("say requires -voice and -text")
	}

	payload := map[string]any{
		"voice":  *voice,
		"text":   *text,
		"format": "json",
	}
	if *speed != 0 {
		payload["speed"] = *speed
	}
	var resp struct {
		AudioBase64  string `json:"audio_base64"`
		SampleRate   int    `json:"sample_rate"`
		SegmentCount int    `json:"segment_count"`
		ElapsedMS    int64  `json:"elapsed_ms"`
	}
	if err := client.do(http.MethodPost, "/v1/generate", payload, &resp); err != nil {
		return err
	}

	wavData, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}
	if err := os.WriteFile(*out, wavData, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d Hz, %d segments, %dms)\n", *out, resp.SampleRate, resp.SegmentCount, resp.ElapsedMS)
	return nil
}
