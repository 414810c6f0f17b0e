package imaging

import (
	"errors"
	"strings"
	"testing"
)

// fakeImage stands in for a backend image in chain-mechanics tests.
type fakeImage struct {
	w, h  int
	trace []string
}

func (f *fakeImage) Width() int  { return f.w }
func (f *fakeImage) Height() int { return f.h }

func tracingFactory(name string) Factory {
	return func(args []any) (Processor, error) {
		return func(next Next, img Image, pc *Context) (Image, error) {
			out, err := next(img, pc)
			if err != nil {
				return nil, err
			}
			fake := out.(*fakeImage)
			fake.trace = append(fake.trace, name)
			return fake, nil
		}, nil
	}
}

func TestChainRunsStepsInSpecOrder(t *testing.T) {
	r := NewRegistry()
	r.Add("first", tracingFactory("first"))
	r.Add("second", tracingFactory("second"))
	r.Add("third", tracingFactory("third"))

	chain, err := r.Compile([]Spec{{Name: "first"}, {Name: "second"}, {Name: "third"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	img := &fakeImage{w: 10, h: 10}
	out, err := chain.Run(img, NewContext(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := strings.Join(out.(*fakeImage).trace, ",")
	if got != "first,second,third" {
		t.Fatalf("steps ran as %s", got)
	}
}

func TestChainEmptyIsIdentity(t *testing.T) {
	r := NewRegistry()
	chain, err := r.Compile(nil)
	if err != nil {
		t.Fatalf("compile empty: %v", err)
	}
	img := &fakeImage{w: 3, h: 4}
	out, err := chain.Run(img, NewContext(nil))
	if err != nil {
		t.Fatalf("run empty: %v", err)
	}
	if out != Image(img) {
		t.Fatal("empty chain must return the input image")
	}
}

func TestCompileUnknownProcessorNamesIt(t *testing.T) {
	r := NewRegistry()
	r.Add("known", tracingFactory("known"))

	_, err := r.Compile([]Spec{{Name: "known"}, {Name: "mystery_step"}})
	if err == nil {
		t.Fatal("expected unknown processor error")
	}
	if !errors.Is(err, ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
	if !strings.Contains(err.Error(), "mystery_step") {
		t.Fatalf("error should name the processor: %v", err)
	}
}

func TestCompileDefaultMacroExpands(t *testing.T) {
	chain, err := stdProcessors.Compile([]Spec{{Name: Default}})
	if err != nil {
		t.Fatalf("compile default: %v", err)
	}
	if chain.Len() != len(defaultConstituents) {
		t.Fatalf("default expanded to %d steps, want %d", chain.Len(), len(defaultConstituents))
	}
}

func TestRegistryAddOverridesConstituent(t *testing.T) {
	r := NewRegistry()
	for _, name := range defaultConstituents {
		r.Add(name, tracingFactory(name))
	}
	// Replacing one constituent must affect the macro expansion too.
	r.Add("autorotate", tracingFactory("custom_autorotate"))

	chain, err := r.Compile([]Spec{{Name: Default}})
	if err != nil {
		t.Fatalf("compile with override: %v", err)
	}

	out, err := chain.Run(&fakeImage{w: 5, h: 5}, NewContext(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	trace := out.(*fakeImage).trace
	want := []string{
		"custom_autorotate",
		"process_jpeg",
		"process_png",
		"process_gif",
		"preserve_icc_profile",
	}
	if strings.Join(trace, ",") != strings.Join(want, ",") {
		t.Fatalf("macro ran as %v, want %v", trace, want)
	}
}

func TestChainStepErrorNamesProcessor(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Add("ok", tracingFactory("ok"))
	r.Add("exploding", func(args []any) (Processor, error) {
		return func(next Next, img Image, pc *Context) (Image, error) {
			return nil, boom
		}, nil
	})

	chain, err := r.Compile([]Spec{{Name: "ok"}, {Name: "exploding"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = chain.Run(&fakeImage{w: 1, h: 1}, NewContext(nil))
	if err == nil {
		t.Fatal("expected step error")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %T", err)
	}
	if stepErr.Processor != "exploding" {
		t.Fatalf("wrong processor tag: %s", stepErr.Processor)
	}
	if !errors.Is(err, boom) {
		t.Fatal("cause should unwrap")
	}
}

func TestChainShortCircuitSkipsEarlierSteps(t *testing.T) {
	r := NewRegistry()
	r.Add("traced", tracingFactory("traced"))
	r.Add("replace_all", func(args []any) (Processor, error) {
		return func(next Next, img Image, pc *Context) (Image, error) {
			// Never calls next: earlier steps must not run.
			return &fakeImage{w: 1, h: 1, trace: []string{"replacement"}}, nil
		}, nil
	})

	chain, err := r.Compile([]Spec{{Name: "traced"}, {Name: "replace_all"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := chain.Run(&fakeImage{w: 9, h: 9}, NewContext(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	trace := out.(*fakeImage).trace
	if len(trace) != 1 || trace[0] != "replacement" {
		t.Fatalf("short-circuit failed, trace: %v", trace)
	}
}

func TestFactoryArgumentErrorsSurfaceAtCompile(t *testing.T) {
	_, err := stdProcessors.Compile([]Spec{P("crop", 300)})
	if err == nil {
		t.Fatal("crop with one argument should fail to compile")
	}
	if !strings.Contains(err.Error(), "crop") {
		t.Fatalf("error should name the processor: %v", err)
	}
}
