package inference

import (
	"runtime"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-frcnn/config"
)

// SessionOptions builds onnxruntime session options with full graph
// optimization, sequential execution and the configured execution provider.
// The caller destroys them.
//
// Arguments:
//   - cfg: Thread count and provider selection. IntraOpThreads 0 uses half
//     the CPUs.
//
// Returns:
//   - *ort.SessionOptions: Configured session options
//   - error: Configuration error if any
func SessionOptions(cfg config.Inference) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}

	intraOpThreads := cfg.IntraOpThreads
	if intraOpThreads <= 0 {
		intraOpThreads = max(1, runtime.NumCPU()/2)
	}

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "cannot set graph optimization level")
	}
	if err := options.SetExecutionMode(ort.ExecutionModeSequential); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "cannot set execution mode")
	}
	if err := options.SetIntraOpNumThreads(intraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "cannot set intra-op threads")
	}
	if err := appendProvider(options, cfg.Provider, cfg.DeviceID); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

// appendProvider registers an accelerator ahead of the default CPU provider.
func appendProvider(options *ort.SessionOptions, provider string, deviceID int) error {
	switch provider {
	case "", "cpu":
		return nil
	case "cuda":
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "cannot create CUDA provider options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			return errors.Wrap(err, "cannot configure CUDA provider")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "cannot enable CUDA provider")
	case "coreml":
		return errors.Wrap(options.AppendExecutionProviderCoreML(uint32(deviceID)), "cannot enable CoreML provider")
	}

	return errors.Errorf("unsupported execution provider %q", provider)
}

// SharedLibraryPath returns the path to the onnxruntime shared library for
// the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if the platform has no bundled library.
func SharedLibraryPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.1.21.0.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}

	return "", errors.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}
