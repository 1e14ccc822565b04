// Package doccat provides a maximum-entropy document categorizer: train it
// on labeled lines of text, then ask it for the most likely category of
// new text.
//
// Quick start:
//
//	c, err := doccat.TrainFiles(ctx, []string{"commodityCategoryData.txt"})
//	if err != nil && !errors.Is(err, doccat.ErrConvergence) {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	p, _ := c.Classify("Hot rolled steel coils")
//	fmt.Println(p.Label, p.Probability) // Metals 0.87
//
//	if err := c.Save("models/documentcategorizer.bin"); err != nil {
//	    log.Fatal(err)
//	}
//
// A Classifier is immutable once trained or loaded and is safe for
// concurrent use.
package doccat
