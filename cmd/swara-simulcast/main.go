package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mahesa/swara/adapters/tts"
	"github.com/mahesa/swara/domain/entities"
)

// swara-simulcast plays the agent side of the wire protocol for manual and
// soak testing: it serves a websocket, streams synthesized audio in the
// same inconsistently-labeled shapes a real agent produces, and optionally
// misbehaves on purpose (dropped stop signals, late chunks).

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type options struct {
	addr      string
	messages  int
	gap       time.Duration
	chunkMs   int
	dropStop  bool
	lateChunk bool
	useTTS    bool
	text      string
}

func main() {
	godotenv.Load()

	opts := options{}
	flag.StringVar(&opts.addr, "addr", ":8090", "listen address")
	flag.IntVar(&opts.messages, "messages", 3, "messages to stream per connection")
	flag.DurationVar(&opts.gap, "gap", 2*time.Second, "pause between messages")
	flag.IntVar(&opts.chunkMs, "chunk-ms", 100, "audio duration per chunk")
	flag.BoolVar(&opts.dropStop, "drop-stop", false, "never send speaking_end")
	flag.BoolVar(&opts.lateChunk, "late-chunk", false, "send one chunk after speaking_end")
	flag.BoolVar(&opts.useTTS, "tts", false, "synthesize audio via ElevenLabs instead of a tone")
	flag.StringVar(&opts.text, "text", "Stream reconciliation check, one two three.", "text for synthesized messages")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	var speech *tts.Synthesizer
	if opts.useTTS {
		var err error
		speech, err = tts.NewSynthesizer(tts.ConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("TTS setup failed", zap.Error(err))
		}
	}

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		logger.Info("Client connected", zap.String("remote", conn.RemoteAddr().String()))
		streamSession(conn, opts, speech, logger)
	})

	logger.Info("Simulcast listening", zap.String("addr", opts.addr))
	if err := http.ListenAndServe(opts.addr, nil); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

// streamSession plays opts.messages messages, rotating through the id
// shapes real agents have been seen to emit.
func streamSession(conn *websocket.Conn, opts options, speech *tts.Synthesizer, logger *zap.Logger) {
	for n := 0; n < opts.messages; n++ {
		messageNum := 100 + n
		if err := streamMessage(conn, opts, speech, messageNum, n, logger); err != nil {
			logger.Warn("Stream aborted", zap.Error(err))
			return
		}
		time.Sleep(opts.gap)
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func streamMessage(conn *websocket.Conn, opts options, speech *tts.Synthesizer, messageNum, variant int, logger *zap.Logger) error {
	// Rotate id shapes: bare numeric string, raw number, prefixed string.
	chunkID := strconv.Itoa(messageNum)
	var startID interface{} = chunkID
	var stopID interface{} = "agent-" + chunkID
	switch variant % 3 {
	case 1:
		startID = messageNum // numeric on the wire
	case 2:
		startID = "tts-" + chunkID
	}

	logger.Info("Streaming message",
		zap.Int("message", messageNum),
		zap.Any("startID", startID),
		zap.Any("stopID", stopID))

	if err := writeJSON(conn, map[string]interface{}{
		"type":       "speaking_start",
		"message_id": startID,
		"timestamp":  time.Now().Unix(),
	}); err != nil {
		return err
	}

	chunks, err := audioChunks(opts, speech)
	if err != nil {
		return fmt.Errorf("produce audio: %w", err)
	}

	for i, chunk := range chunks {
		// Alternate between JSON-framed base64 chunks and bare binary
		// frames, the way mixed agent backends do.
		if i%2 == 0 {
			if err := writeJSON(conn, map[string]interface{}{
				"type":       "audio_chunk",
				"id":         messageNum,
				"audio_data": base64.StdEncoding.EncodeToString(chunk),
			}); err != nil {
				return err
			}
		} else {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return err
			}
		}
		time.Sleep(time.Duration(opts.chunkMs) * time.Millisecond / 2)
	}

	if opts.dropStop {
		logger.Info("Dropping stop signal on purpose", zap.Int("message", messageNum))
		return nil
	}

	if err := writeJSON(conn, map[string]interface{}{
		"type":       "speaking_end",
		"session_id": stopID,
		"timestamp":  time.Now().Unix(),
	}); err != nil {
		return err
	}

	if opts.lateChunk {
		time.Sleep(100 * time.Millisecond)
		logger.Info("Sending late chunk on purpose", zap.Int("message", messageNum))
		late := tonePCM(entities.DefaultAudioFormat, opts.chunkMs, 440)
		if err := writeJSON(conn, map[string]interface{}{
			"type":       "audio_chunk",
			"id":         messageNum,
			"audio_data": base64.StdEncoding.EncodeToString(late),
		}); err != nil {
			return err
		}
	}

	return nil
}

// audioChunks produces the message's PCM, either synthesized or a tone
// sweep, split into chunk-sized pieces.
func audioChunks(opts options, speech *tts.Synthesizer) ([][]byte, error) {
	if speech != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		stream, err := speech.Synthesize(ctx, opts.text)
		if err != nil {
			return nil, err
		}
		var chunks [][]byte
		for chunk := range stream {
			chunks = append(chunks, chunk)
		}
		return chunks, nil
	}

	format := entities.DefaultAudioFormat
	freqs := []float64{330, 392, 440, 523}
	chunks := make([][]byte, 0, len(freqs))
	for _, f := range freqs {
		chunks = append(chunks, tonePCM(format, opts.chunkMs, f))
	}
	return chunks, nil
}

// tonePCM generates ms milliseconds of a sine tone as 16-bit LE PCM.
func tonePCM(format entities.AudioFormat, ms int, freq float64) []byte {
	samples := format.SampleRate * ms / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(format.SampleRate))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*12000)))
	}
	return out
}

func writeJSON(conn *websocket.Conn, msg map[string]interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
