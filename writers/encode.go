package writers

import (
	"image"
	"io"

	"github.com/astrogo/fitsio"
	xtiff "golang.org/x/image/tiff"

	"github.com/microscope-io/mdastore/mda"
)

// ImageEncoder writes one frame to w in some single-image format.  The
// sequence writer uses EncodeTIFF unless another encoder is injected.
type ImageEncoder func(w io.Writer, frame mda.Frame) error

// EncodeTIFF writes the frame as an uncompressed 16-bit grayscale TIFF.
func EncodeTIFF(w io.Writer, frame mda.Frame) error {
	img := image.NewGray16(image.Rect(0, 0, frame.Width, frame.Height))
	for i, v := range frame.Pix {
		img.Pix[2*i] = byte(v >> 8)
		img.Pix[2*i+1] = byte(v)
	}
	return xtiff.Encode(w, img, &xtiff.Options{Compression: xtiff.Uncompressed})
}

// EncodeFITS writes the frame as a 16-bit FITS image.  Pixel values are
// shifted to signed with BZERO/BSCALE cards, the usual convention for
// unsigned camera data.
func EncodeFITS(w io.Writer, frame mda.Frame) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{frame.Width, frame.Height})
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	buf := make([]int16, len(frame.Pix))
	for i, v := range frame.Pix {
		buf[i] = int16(v - 32768)
	}
	if err := im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}
