package workflow

// Settings holds the sampler and model values baked into every template
type Settings struct {
	Checkpoint        string
	Steps             int
	CFG               float64
	SamplerName       string
	Scheduler         string
	Denoise           float64
	Width             int
	Height            int
	BatchSize         int
	FilenamePrefix    string
	LoraStrengthModel float64
	LoraStrengthClip  float64
}

// DefaultSettings returns the stock SD 1.5 text-to-image settings
func DefaultSettings() Settings {
	return Settings{
		Checkpoint:        "dreamshaper_8.safetensors",
		Steps:             20,
		CFG:               7.0,
		SamplerName:       "euler",
		Scheduler:         "normal",
		Denoise:           1.0,
		Width:             512,
		Height:            512,
		BatchSize:         1,
		FilenamePrefix:    "ComfyUI",
		LoraStrengthModel: 1.0,
		LoraStrengthClip:  1.0,
	}
}

// Topology names the nodes of a template the builder patches
type Topology struct {
	Name       string
	Checkpoint string
	Adapter    string // empty for the plain topology
	Positive   string
	Negative   string
	Sampler    string
	Save       string
}

var (
	// PlainTopology: checkpoint -> text encode -> sampler -> decode -> save
	PlainTopology = Topology{
		Name:       "plain",
		Checkpoint: "1",
		Positive:   "2",
		Negative:   "3",
		Sampler:    "4",
		Save:       "7",
	}

	// AdapterTopology routes model and clip through a LoraLoader
	AdapterTopology = Topology{
		Name:       "with-adapter",
		Checkpoint: "1",
		Adapter:    "2",
		Positive:   "3",
		Negative:   "4",
		Sampler:    "5",
		Save:       "8",
	}
)

// checkpoint loader output slots
const (
	slotModel = 0
	slotClip  = 1
	slotVAE   = 2
)

func plainGraph(s Settings) JobGraph {
	return JobGraph{
		"1": node("CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{
			"ckpt_name": s.Checkpoint,
		}),
		"2": node("CLIPTextEncode", "CLIP Text Encode (Prompt)", map[string]interface{}{
			"text": "",
			"clip": Ref{"1", slotClip},
		}),
		"3": node("CLIPTextEncode", "CLIP Text Encode (Negative)", map[string]interface{}{
			"text": "",
			"clip": Ref{"1", slotClip},
		}),
		"4": node("KSampler", "KSampler", samplerInputs(s, "1", "2", "3", "5")),
		"5": node("EmptyLatentImage", "Empty Latent Image", latentInputs(s)),
		"6": node("VAEDecode", "VAE Decode", map[string]interface{}{
			"samples": Ref{"4", 0},
			"vae":     Ref{"1", slotVAE},
		}),
		"7": node("SaveImage", "Save Image", map[string]interface{}{
			"filename_prefix": s.FilenamePrefix,
			"images":          Ref{"6", 0},
		}),
	}
}

func adapterGraph(s Settings) JobGraph {
	return JobGraph{
		"1": node("CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{
			"ckpt_name": s.Checkpoint,
		}),
		"2": node("LoraLoader", "Load LoRA", map[string]interface{}{
			"lora_name":      "",
			"strength_model": s.LoraStrengthModel,
			"strength_clip":  s.LoraStrengthClip,
			"model":          Ref{"1", slotModel},
			"clip":           Ref{"1", slotClip},
		}),
		"3": node("CLIPTextEncode", "CLIP Text Encode (Prompt)", map[string]interface{}{
			"text": "",
			"clip": Ref{"1", slotClip},
		}),
		"4": node("CLIPTextEncode", "CLIP Text Encode (Negative)", map[string]interface{}{
			"text": "",
			"clip": Ref{"1", slotClip},
		}),
		// the sampler takes the LoRA-patched model
		"5": node("KSampler", "KSampler", samplerInputs(s, "2", "3", "4", "6")),
		"6": node("EmptyLatentImage", "Empty Latent Image", latentInputs(s)),
		"7": node("VAEDecode", "VAE Decode", map[string]interface{}{
			"samples": Ref{"5", 0},
			"vae":     Ref{"1", slotVAE},
		}),
		"8": node("SaveImage", "Save Image", map[string]interface{}{
			"filename_prefix": s.FilenamePrefix,
			"images":          Ref{"7", 0},
		}),
	}
}

func samplerInputs(s Settings, model, positive, negative, latent string) map[string]interface{} {
	return map[string]interface{}{
		"seed":         uint32(0),
		"steps":        s.Steps,
		"cfg":          s.CFG,
		"sampler_name": s.SamplerName,
		"scheduler":    s.Scheduler,
		"denoise":      s.Denoise,
		"model":        Ref{model, 0},
		"positive":     Ref{positive, 0},
		"negative":     Ref{negative, 0},
		"latent_image": Ref{latent, 0},
	}
}

func latentInputs(s Settings) map[string]interface{} {
	return map[string]interface{}{
		"width":      s.Width,
		"height":     s.Height,
		"batch_size": s.BatchSize,
	}
}
