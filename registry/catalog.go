package registry

const hfBase = "https://huggingface.co/getcharzp/clickseg-onnx/resolve/main/"

// builtin 内置模型
var builtin = []ModelDescriptor{
	{
		ID:               "sam2-tiny",
		Name:             "SAM2 Hiera Tiny",
		Description:      "SAM2 tiny, 速度优先",
		SizeMB:           151,
		EncoderURL:       hfBase + "sam2_hiera_tiny.encoder.onnx",
		DecoderURL:       hfBase + "sam2_hiera_tiny.decoder.onnx",
		ImageSize:        1024,
		MaskSize:         256,
		Family:           FamilySAM2,
		EncoderInputName: "image",
		HasBatchAxis:     true,
		Layout:           LayoutCHW,
		Normalization:    ImageNet(),
	},
	{
		ID:               "sam2-small",
		Name:             "SAM2 Hiera Small",
		Description:      "SAM2 small, 精度更高, 建议配合 GPU 使用",
		SizeMB:           184,
		EncoderURL:       hfBase + "sam2_hiera_small.encoder.onnx",
		DecoderURL:       hfBase + "sam2_hiera_small.decoder.onnx",
		ImageSize:        1024,
		MaskSize:         256,
		Family:           FamilySAM2,
		EncoderInputName: "image",
		HasBatchAxis:     true,
		Layout:           LayoutCHW,
		Normalization:    ImageNet(),
	},
	{
		ID:               "mobilesam",
		Name:             "MobileSAM",
		Description:      "轻量 SAM, 适合纯 CPU",
		SizeMB:           40,
		EncoderURL:       hfBase + "mobilesam.encoder.onnx",
		DecoderURL:       hfBase + "mobilesam.decoder.onnx",
		ImageSize:        1024,
		MaskSize:         256,
		Family:           FamilySAM,
		EncoderInputName: "input_image",
		HasBatchAxis:     false,
		Layout:           LayoutHWC,
		InputRange:       255,
	},
	{
		ID:               "slimsam-77",
		Name:             "SlimSAM 77%",
		Description:      "剪枝 SAM, 体积最小",
		SizeMB:           38,
		EncoderURL:       hfBase + "slimsam_77.encoder.onnx",
		DecoderURL:       hfBase + "slimsam_77.decoder.onnx",
		ImageSize:        1024,
		MaskSize:         256,
		Family:           FamilySAM,
		EncoderInputName: "pixel_values",
		HasBatchAxis:     true,
		Layout:           LayoutCHW,
		Normalization:    ImageNet(),
	},
}

var builtinAliases = map[string]string{
	"sam2":       "sam2-tiny",
	"mobile-sam": "mobilesam",
	"slimsam":    "slimsam-77",
}

// Default 内置注册表
var Default = mustNew(builtin, builtinAliases)

func mustNew(descriptors []ModelDescriptor, aliases map[string]string) *Registry {
	r, err := New(descriptors, aliases)
	if err != nil {
		panic(err)
	}
	return r
}

// Get 在内置注册表中查找
func Get(id string) (ModelDescriptor, error) {
	return Default.Get(id)
}

// List 内置模型列表
func List() []ModelDescriptor {
	return Default.List()
}

// Recommended 根据是否有加速后端推荐模型
func Recommended(accelerated bool) string {
	if accelerated {
		return "sam2-small"
	}
	return "mobilesam"
}
