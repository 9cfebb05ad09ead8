package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

// ErrSynthesisRejected means the speech engine refused the input text.
var ErrSynthesisRejected = errors.New("speech synthesis rejected input")

// ErrSynthesisThrottled means the speech engine is rate limiting us.
var ErrSynthesisThrottled = errors.New("speech synthesis throttled")

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig selects the Polly voice.
type PollyConfig struct {
	Region string
	Voice  string
	Engine string
}

// PollySynthesizer speaks through Amazon Polly.
type PollySynthesizer struct {
	cfg PollyConfig

	mu     sync.Mutex
	client synthClient
}

// NewPollySynthesizer creates a synthesizer. The AWS client is created on first use.
func NewPollySynthesizer(cfg PollyConfig) *PollySynthesizer {
	return newPollySynthesizer(cfg, nil)
}

func newPollySynthesizer(cfg PollyConfig, client synthClient) *PollySynthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Joanna"
	}
	return &PollySynthesizer{cfg: cfg, client: client}
}

// Synthesize returns MP3 audio for text.
func (p *PollySynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.cfg.Voice),
	})
	if err != nil {
		return nil, pollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, errors.New("polly returned no audio")
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read polly audio: %w", err)
	}
	return audio, nil
}

func pollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return fmt.Errorf("%w: %s", ErrSynthesisThrottled, apiErr.ErrorMessage())
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return fmt.Errorf("%w: %s", ErrSynthesisRejected, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("polly synthesize: %w", err)
}

func (p *PollySynthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
