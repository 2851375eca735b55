package pipeline_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/vadstream/internal/pipeline"
	"github.com/MrWong99/vadstream/pkg/audio"
	vadmock "github.com/MrWong99/vadstream/pkg/provider/vad/mock"
)

func TestClassifier_NormalisesSamples(t *testing.T) {
	t.Parallel()
	sess := &vadmock.Session{Script: []bool{true}}
	c := pipeline.NewClassifier(sess, 4)

	r, err := c.Classify(audio.Frame{Samples: []int16{0, 16384, -32768, 32767}})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !r.IsSpeech {
		t.Error("expected scripted speech result")
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	got := sess.Frames[0]
	shared := audio.Normalize([]int16{0, 16384, -32768, 32767})
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
		if got[i] != shared[i] {
			t.Errorf("sample %d = %v, audio.Normalize gives %v", i, got[i], shared[i])
		}
	}
}

func TestClassifier_FrameLength(t *testing.T) {
	t.Parallel()
	sess := &vadmock.Session{}
	c := pipeline.NewClassifier(sess, 512)

	_, err := c.Classify(audio.Frame{Index: 3, Samples: make([]int16, 511)})
	if !errors.Is(err, pipeline.ErrFrameLength) {
		t.Errorf("Classify err = %v, want ErrFrameLength", err)
	}
	_, err = c.ClassifyNormalized(make([]float32, 513))
	if !errors.Is(err, pipeline.ErrFrameLength) {
		t.Errorf("ClassifyNormalized err = %v, want ErrFrameLength", err)
	}
	if len(sess.Frames) != 0 {
		t.Errorf("model saw %d frames, want 0", len(sess.Frames))
	}
}

func TestClassifier_PropagatesModelError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	c := pipeline.NewClassifier(&vadmock.Session{ProcessFrameErr: boom}, 2)
	if _, err := c.ClassifyNormalized([]float32{0, 0}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestClassifier_ResetRewindsModel(t *testing.T) {
	t.Parallel()
	sess := &vadmock.Session{Script: []bool{true, false}}
	c := pipeline.NewClassifier(sess, 1)

	first, _ := c.ClassifyNormalized([]float32{0})
	c.Reset()
	again, _ := c.ClassifyNormalized([]float32{0})
	if first != again {
		t.Errorf("after Reset got %+v, want %+v", again, first)
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("ResetCallCount = %d, want 1", sess.ResetCallCount)
	}
}
