package clickseg

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/segmenter"
)

// TextDrawer 文本绘制工具
type TextDrawer struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 创建文本绘制工具
//
// # Params:
//
//	fontPath: 字体路径, 为空时使用内置的 Go 字体
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	if fontPath == "" {
		return NewTextDrawerFromBytes(goregular.TTF)
	}
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	return NewTextDrawerFromBytes(fontBytes)
}

// NewTextDrawerFromBytes 从字体数据创建文本绘制工具
func NewTextDrawerFromBytes(fontBytes []byte) (*TextDrawer, error) {
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
//
// # Params:
//
//	fontSize: 字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	// 释放旧 Face 内存
	if d.face != nil {
		d.face.Close()
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	d.face = nf
	d.fontSize = fontSize
	return nil
}

// DrawText 绘制文本, (x, y) 为基线起点
func (d *TextDrawer) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	d1 := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: d.face,
		Dot:  fixed.P(x, y),
	}
	d1.DrawString(text)
}

// Close 释放资源
func (d *TextDrawer) Close() {
	if d.face != nil {
		d.face.Close()
	}
}

// overlayAlpha mask 叠加的不透明度
const overlayAlpha = 128

// DrawResult 在原图上叠加分割结果: 半透明 mask, 外接框, 分数
//
// # Params:
//
//	src: 原图
//	res: 分割结果
//	lb: SetImage 时的填充参数
//	d: (可选) 文本绘制工具, 为 nil 时不绘制分数
func DrawResult(src image.Image, res *segmenter.Result, lb imgtensor.Letterbox, d *TextDrawer) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	if res == nil || res.Image == nil {
		return out
	}

	if m := maskToSource(res.Image, lb); m != nil {
		draw.DrawMask(out, out.Bounds(), m, image.Point{}, image.NewUniform(color.Alpha{A: overlayAlpha}), image.Point{}, draw.Over)
	}

	r := res.SourceBounds
	if r.Empty() {
		return out
	}
	drawRect(out, r, imgtensor.HighlightColor)
	if d != nil {
		y := r.Min.Y - 4
		if y < int(d.fontSize) {
			y = r.Min.Y + int(d.fontSize)
		}
		d.DrawText(out, fmt.Sprintf("%.2f", res.Score), r.Min.X+2, y, imgtensor.HighlightColor)
	}
	return out
}

// maskToSource 把 mask 位图放大到填充画布, 裁掉填充区域后缩放回原图尺寸
func maskToSource(mask *image.RGBA, lb imgtensor.Letterbox) image.Image {
	if lb.Target <= 0 || lb.ContentW <= 0 || lb.ContentH <= 0 {
		return nil
	}
	canvas := resize.Resize(uint(lb.Target), uint(lb.Target), mask, resize.NearestNeighbor)
	content := image.NewRGBA(image.Rect(0, 0, lb.ContentW, lb.ContentH))
	draw.Draw(content, content.Bounds(), canvas, image.Pt(lb.OffsetX, lb.OffsetY), draw.Src)
	if lb.ContentW == lb.SourceW && lb.ContentH == lb.SourceH {
		return content
	}
	return resize.Resize(uint(lb.SourceW), uint(lb.SourceH), content, resize.NearestNeighbor)
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
