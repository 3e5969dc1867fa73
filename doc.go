/*
go-yolocore implements the numeric core of a YOLO family object detector:
the deterministic algorithms that turn multi-scale feature maps into
calibrated bounding box predictions, and turn ground truth annotations plus
raw predictions into a scalar training loss.

The root package provides the shared numeric kit: a dense float32 tensor,
anchor point generation for a feature pyramid, box coordinate transforms
and IoU/CIoU.  The head subpackage decodes raw per level outputs through
the DFL integral, assign implements the task aligned label assigner, loss
composes the classification, CIoU and DFL terms, and postprocess performs
confidence filtering, per class NMS and letterbox un-mapping.  The detect
subpackage wires these into inference and training forward passes.

The backbone network producing the feature maps is out of scope, the core
consumes its outputs as plain tensors.  See example code and usage in the
example subdirectory.
*/
package yolocore
